package notify

import (
	"context"
	"fmt"
	"time"

	"chat_relay/internal/repository"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type SweeperStore interface {
	repository.NotificationStore
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Sweeper deletes notifications whose sender no longer exists.
type Sweeper struct {
	store   SweeperStore
	limiter *rate.Limiter
	batch   int
	log     zerolog.Logger

	c *cron.Cron
}

func NewSweeper(store SweeperStore, ratePerSec float64, batch int, log zerolog.Logger) *Sweeper {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	if batch < 1 {
		batch = 100
	}
	return &Sweeper{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		batch:   batch,
		log:     log.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules Sweep on spec (standard cron or descriptor). A run still in
// progress when the next one is due makes that one skip.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	logger := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		cron.WithLogger(logger),
	)
	_, err := s.c.AddFunc(spec, func() {
		started := time.Now()
		deleted, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("deleted", deleted).Msg("Sweep failed")
			return
		}
		s.log.Info().Int("deleted", deleted).Dur("took", time.Since(started)).Msg("Sweep finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper %q: %w", spec, err)
	}
	s.c.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
}

// Sweep pages through every notification once and returns how many it deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	exists := make(map[uuid.UUID]bool)
	deleted := 0
	cursor := uuid.Nil
	for {
		page, err := s.store.ScanNotifications(ctx, cursor, s.batch)
		if err != nil {
			return deleted, fmt.Errorf("failed to scan notifications: %w", err)
		}
		for _, n := range page {
			if err := s.limiter.Wait(ctx); err != nil {
				return deleted, err
			}
			ok, seen := exists[n.FromID]
			if !seen {
				ok, err = s.store.UserExists(ctx, n.FromID)
				if err != nil {
					return deleted, fmt.Errorf("failed to check sender %s: %w", n.FromID, err)
				}
				exists[n.FromID] = ok
			}
			if ok {
				continue
			}
			if err := s.store.DeleteNotification(ctx, n.ID); err != nil {
				return deleted, fmt.Errorf("failed to delete notification %s: %w", n.ID, err)
			}
			deleted++
		}
		if len(page) < s.batch {
			return deleted, nil
		}
		cursor = page[len(page)-1].ID
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

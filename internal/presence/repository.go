package presence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SessionRepository mirrors registry joins and leaves so other tooling can
// see which node holds which connection. The in-memory Registry stays
// authoritative and never reads it back.
type SessionRepository interface {
	AddSession(ctx context.Context, userID, connectionID uuid.UUID, nodeID string) error
	RemoveSession(ctx context.Context, userID, connectionID uuid.UUID) error
	ClearNode(ctx context.Context, nodeID string) error
}

const (
	upsertSession = `INSERT INTO active_sessions (user_id, connection_id, node_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, connection_id) DO UPDATE SET node_id = EXCLUDED.node_id, connected_at = NOW()`
	deleteSession  = `DELETE FROM active_sessions WHERE user_id = $1 AND connection_id = $2`
	deleteNodeRows = `DELETE FROM active_sessions WHERE node_id = $1`
)

type PostgresSessions struct {
	db *sql.DB
}

func NewPostgresSessions(db *sql.DB) *PostgresSessions {
	return &PostgresSessions{db: db}
}

func (s *PostgresSessions) AddSession(ctx context.Context, userID, connectionID uuid.UUID, nodeID string) error {
	if _, err := s.db.ExecContext(ctx, upsertSession, userID, connectionID, nodeID); err != nil {
		return fmt.Errorf("failed to add session %s for %s: %w", connectionID, userID, err)
	}
	return nil
}

func (s *PostgresSessions) RemoveSession(ctx context.Context, userID, connectionID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, deleteSession, userID, connectionID); err != nil {
		return fmt.Errorf("failed to remove session %s for %s: %w", connectionID, userID, err)
	}
	return nil
}

// ClearNode drops rows left behind by a previous run of nodeID.
func (s *PostgresSessions) ClearNode(ctx context.Context, nodeID string) error {
	if _, err := s.db.ExecContext(ctx, deleteNodeRows, nodeID); err != nil {
		return fmt.Errorf("failed to clear sessions of node %s: %w", nodeID, err)
	}
	return nil
}

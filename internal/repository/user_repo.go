package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const pqUniqueViolation = "23505"

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, avatar_img, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.FullName, &u.AvatarImg, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) GetUserSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserSummary, error) {
	result := make(map[uuid.UUID]domain.UserSummary, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := lo.Map(lo.Uniq(ids), func(id uuid.UUID, _ int) string { return id.String() })
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, full_name, avatar_img FROM users WHERE id = ANY($1::uuid[])
	`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.UserSummary
		if err := rows.Scan(&s.ID, &s.Username, &s.FullName, &s.AvatarImg); err != nil {
			return nil, err
		}
		result[s.ID] = s
	}
	return result, rows.Err()
}

func (r *UserRepository) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if user exists: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) SaveUser(ctx context.Context, user *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, avatar_img, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET username = $2, full_name = $3, avatar_img = $4
	`, user.ID, user.Username, user.FullName, user.AvatarImg, user.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

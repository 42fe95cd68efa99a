package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat_relay/internal/domain"

	"github.com/google/uuid"
)

const relationshipColumns = `id, from_id, to_id, status, created_at`

type RelationshipRepository struct {
	db *sql.DB
}

func NewRelationshipRepository(db *sql.DB) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

func (r *RelationshipRepository) CreateFriendRequest(ctx context.Context, rel *domain.Relationship, n *domain.Notification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (from_id, to_id) DO NOTHING
	`, rel.ID, rel.FromID, rel.ToID, rel.Status, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrConflict
	}

	if n != nil {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *RelationshipRepository) GetRelationship(ctx context.Context, id uuid.UUID) (*domain.Relationship, error) {
	rel, err := scanRelationship(r.db.QueryRowContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relationship: %w", err)
	}
	return rel, nil
}

// RespondToRequest commits the status change, the follow edges and the
// notification together or not at all.
func (r *RelationshipRepository) RespondToRequest(ctx context.Context, id uuid.UUID, status domain.RelationshipStatus, n *domain.Notification) (*domain.Relationship, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rel, err := scanRelationship(tx.QueryRowContext(ctx, `
		UPDATE relationships SET status = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+relationshipColumns,
		id, status))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM relationships WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check relationship: %w", err)
		}
		if exists {
			return nil, domain.ErrConflict
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update relationship: %w", err)
	}

	if status == domain.RelationshipAccepted {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO follows (follower_id, followee_id)
			VALUES ($1, $2), ($2, $1)
			ON CONFLICT DO NOTHING
		`, rel.FromID, rel.ToID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert follows: %w", err)
		}
	}

	if n != nil {
		if err := insertNotification(ctx, tx, n); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit relationship response: %w", err)
	}
	return rel, nil
}

func (r *RelationshipRepository) DeleteFriendship(ctx context.Context, a, b uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE status = 'accepted'
		  AND ((from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1))
	`, a, b)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM follows
		WHERE (follower_id = $1 AND followee_id = $2) OR (follower_id = $2 AND followee_id = $1)
	`, a, b)
	if err != nil {
		return fmt.Errorf("failed to delete follows: %w", err)
	}
	return tx.Commit()
}

func (r *RelationshipRepository) Following(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.followEdges(ctx, `SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY created_at`, userID)
}

func (r *RelationshipRepository) Followers(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.followEdges(ctx, `SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY created_at`, userID)
}

func (r *RelationshipRepository) followEdges(ctx context.Context, query string, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch follows: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRelationship(s rowScanner) (*domain.Relationship, error) {
	var rel domain.Relationship
	if err := s.Scan(&rel.ID, &rel.FromID, &rel.ToID, &rel.Status, &rel.CreatedAt); err != nil {
		return nil, err
	}
	return &rel, nil
}

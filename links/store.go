// Package links persists per-conversation account bindings: the access
// credential for the accounting service and an optional default group.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/splitbot/core/logger"
	"github.com/m3rciful/splitbot/flow"
	"log/slog"
)

type row struct {
	ChatID       int64         `db:"chat_id"`
	Credential   string        `db:"credential"`
	DefaultGroup sql.NullInt64 `db:"default_group_id"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// Store is the postgres-backed flow.Links implementation.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Get returns the link for a conversation if one exists.
func (s *Store) Get(ctx context.Context, conversation int64) (flow.Link, bool, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT chat_id, credential, default_group_id, updated_at
		   FROM account_links WHERE chat_id = $1`, conversation)
	if errors.Is(err, sql.ErrNoRows) {
		return flow.Link{}, false, nil
	}
	if err != nil {
		return flow.Link{}, false, fmt.Errorf("links: get %d: %w", conversation, err)
	}

	link := flow.Link{Credential: r.Credential}
	if r.DefaultGroup.Valid {
		link.DefaultGroup = r.DefaultGroup.Int64
	}
	return link, true, nil
}

// SetCredential stores the credential, clearing any previously chosen
// default group: a fresh account has no group binding yet.
func (s *Store) SetCredential(ctx context.Context, conversation int64, credential string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_links (chat_id, credential, default_group_id, updated_at)
		 VALUES ($1, $2, NULL, NOW())
		 ON CONFLICT (chat_id)
		 DO UPDATE SET credential = EXCLUDED.credential, default_group_id = NULL, updated_at = NOW()`,
		conversation, credential)
	if err != nil {
		return fmt.Errorf("links: set credential %d: %w", conversation, err)
	}
	logger.Debug(ctx, "service.links", "credential.set",
		slog.String("status", "ok"),
		slog.Int64("chat_id", conversation),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

// SetDefaultGroup records the conversation's default group choice.
func (s *Store) SetDefaultGroup(ctx context.Context, conversation int64, groupID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE account_links SET default_group_id = $2, updated_at = NOW() WHERE chat_id = $1`,
		conversation, groupID)
	if err != nil {
		return fmt.Errorf("links: set default group %d: %w", conversation, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("links: set default group %d: no link", conversation)
	}
	logger.Debug(ctx, "service.links", "default_group.set",
		slog.String("status", "ok"),
		slog.Int64("chat_id", conversation),
		slog.Int64("group_id", groupID),
	)
	return nil
}

// Remove unlinks the conversation's account.
func (s *Store) Remove(ctx context.Context, conversation int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM account_links WHERE chat_id = $1`, conversation)
	if err != nil {
		return fmt.Errorf("links: remove %d: %w", conversation, err)
	}
	logger.Debug(ctx, "service.links", "link.removed",
		slog.String("status", "ok"),
		slog.Int64("chat_id", conversation),
	)
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	esDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
	sharedPostgres "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/postgres"
)

const createOutboxSQL = `
CREATE TABLE IF NOT EXISTS outbox (
	id              UUID        PRIMARY KEY,
	target          TEXT        NOT NULL,
	routing_key     TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	locked_at       TIMESTAMPTZ,
	lock_token      UUID,
	acknowledged_at TIMESTAMPTZ,
	failed_at       TIMESTAMPTZ,
	retry_count     INT         NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS outbox_claim_idx ON outbox (created_at)
	WHERE locked_at IS NULL AND acknowledged_at IS NULL AND failed_at IS NULL;
CREATE INDEX IF NOT EXISTS outbox_locked_at_idx ON outbox (locked_at);
CREATE INDEX IF NOT EXISTS outbox_lock_token_idx ON outbox (lock_token);
CREATE INDEX IF NOT EXISTS outbox_acknowledged_at_idx ON outbox (acknowledged_at);
CREATE INDEX IF NOT EXISTS outbox_failed_at_idx ON outbox (failed_at);

CREATE OR REPLACE FUNCTION outbox_notify_inserted() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('outbox_inserted', NEW.id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS outbox_inserted_trigger ON outbox;
CREATE TRIGGER outbox_inserted_trigger
	AFTER INSERT ON outbox
	FOR EACH ROW EXECUTE FUNCTION outbox_notify_inserted();
`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists outbox entries in Postgres. Claiming uses
// FOR UPDATE SKIP LOCKED inside a single conditional update, so
// concurrently draining instances never claim the same entry.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InitSchema creates the outbox table, its indexes and the insert
// notification trigger.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createOutboxSQL)
	return err
}

func (s *Store) Insert(ctx context.Context, entries ...domain.Entry) error {
	tx, ok := sharedPostgres.TxFromContext(ctx)
	if !ok {
		return domain.ErrNoActiveTransaction
	}

	for _, entry := range entries {
		payload, err := json.Marshal(entry.Payload)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO outbox (id, target, routing_key, payload, created_at, retry_count)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID.String(), entry.Target, entry.RoutingKey, payload, entry.CreatedAt, entry.RetryCount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LockUnlockedBatch(ctx context.Context, token domain.LockToken, limit int) error {
	_, err := s.q(ctx).Exec(ctx, `
		UPDATE outbox
		SET locked_at = now(), lock_token = $1
		WHERE id IN (
			SELECT id FROM outbox
			WHERE locked_at IS NULL AND acknowledged_at IS NULL AND failed_at IS NULL
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`,
		token.String(), limit)
	return err
}

func (s *Store) FindLockedEntries(ctx context.Context, token domain.LockToken) ([]domain.Entry, error) {
	return s.find(ctx, `
		SELECT id, target, routing_key, payload, created_at, locked_at, lock_token,
			acknowledged_at, failed_at, retry_count
		FROM outbox
		WHERE lock_token = $1
		ORDER BY created_at`,
		token.String())
}

func (s *Store) AcknowledgeLocked(ctx context.Context, token domain.LockToken) error {
	_, err := s.q(ctx).Exec(ctx, `
		UPDATE outbox
		SET acknowledged_at = now(), locked_at = NULL, lock_token = NULL
		WHERE lock_token = $1`,
		token.String())
	return err
}

func (s *Store) ReleaseLocked(ctx context.Context, token domain.LockToken, maxRetries int) error {
	_, err := s.q(ctx).Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1,
			failed_at = CASE WHEN retry_count + 1 >= $2 THEN now() ELSE NULL END,
			locked_at = NULL,
			lock_token = NULL
		WHERE lock_token = $1`,
		token.String(), maxRetries)
	return err
}

func (s *Store) FindFailedBefore(ctx context.Context, cutoff time.Time) ([]domain.Entry, error) {
	return s.find(ctx, `
		SELECT id, target, routing_key, payload, created_at, locked_at, lock_token,
			acknowledged_at, failed_at, retry_count
		FROM outbox
		WHERE failed_at < $1
		ORDER BY failed_at`,
		cutoff)
}

func (s *Store) UnlockLockedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE outbox
		SET locked_at = NULL, lock_token = NULL
		WHERE locked_at < $1 AND acknowledged_at IS NULL AND failed_at IS NULL`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM outbox WHERE acknowledged_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := sharedPostgres.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

func (s *Store) find(ctx context.Context, sql string, args ...any) ([]domain.Entry, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var (
			id           string
			entry        domain.Entry
			payloadBytes []byte
			lockToken    *string
		)
		if err := rows.Scan(&id, &entry.Target, &entry.RoutingKey, &payloadBytes, &entry.CreatedAt,
			&entry.LockedAt, &lockToken, &entry.AcknowledgedAt, &entry.FailedAt, &entry.RetryCount); err != nil {
			return nil, err
		}

		entry.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		if lockToken != nil {
			parsed, err := uuid.Parse(*lockToken)
			if err != nil {
				return nil, err
			}
			token := domain.LockToken(parsed)
			entry.LockToken = &token
		}

		var payload esDomain.Document
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, err
		}
		entry.Payload = payload

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var _ domain.Store = (*Store)(nil)

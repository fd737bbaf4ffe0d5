package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
	sharedPostgres "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/postgres"
)

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS events (
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	version        BIGINT      NOT NULL,
	event_name     TEXT        NOT NULL,
	event_version  INT         NOT NULL,
	payload        JSONB       NOT NULL,
	agent_type     TEXT        NOT NULL,
	agent_id       TEXT        NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	is_snapshot    BOOLEAN     NOT NULL DEFAULT FALSE,
	PRIMARY KEY (aggregate_id, aggregate_type, version)
);
CREATE INDEX IF NOT EXISTS events_snapshot_idx
	ON events (aggregate_id, aggregate_type, version DESC)
	WHERE is_snapshot;
`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventStore persists event streams in Postgres. The guarded insert plus
// the primary key give the optimistic append check.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InitSchema creates the events table and indexes.
func (s *EventStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createEventsSQL)
	return err
}

func (s *EventStore) Append(ctx context.Context, event domain.StoredEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	tag, err := s.q(ctx).Exec(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, version, event_name, event_version,
			payload, agent_type, agent_id, occurred_at, is_snapshot)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE $3 = COALESCE(
			(SELECT MAX(version) + 1 FROM events WHERE aggregate_id = $1 AND aggregate_type = $2),
			0
		)`,
		string(event.Metadata.AggregateID),
		string(event.Metadata.AggregateType),
		event.Metadata.AggregateVersion.Int64(),
		string(event.Name),
		event.SchemaVersion,
		payload,
		string(event.Metadata.Agent.Type),
		event.Metadata.Agent.ID,
		event.Metadata.OccurredAt,
		event.IsSnapshot(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *EventStore) FindLatestSnapshot(ctx context.Context, id domain.AggregateID, typ domain.AggregateType) (*domain.StoredEvent, error) {
	return s.findOne(ctx, `
		SELECT aggregate_id, aggregate_type, version, event_name, event_version,
			payload, agent_type, agent_id, occurred_at, is_snapshot
		FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2 AND is_snapshot
		ORDER BY version DESC
		LIMIT 1`,
		string(id), string(typ))
}

func (s *EventStore) FindNearestSnapshotAtOrBelow(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) (*domain.StoredEvent, error) {
	return s.findOne(ctx, `
		SELECT aggregate_id, aggregate_type, version, event_name, event_version,
			payload, agent_type, agent_id, occurred_at, is_snapshot
		FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2 AND is_snapshot AND version <= $3
		ORDER BY version DESC
		LIMIT 1`,
		string(id), string(typ), version.Int64())
}

func (s *EventStore) FindEventsFrom(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version) ([]domain.StoredEvent, error) {
	return s.find(ctx, `
		SELECT aggregate_id, aggregate_type, version, event_name, event_version,
			payload, agent_type, agent_id, occurred_at, is_snapshot
		FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2 AND version >= $3
		ORDER BY version ASC`,
		string(id), string(typ), from.Int64())
}

func (s *EventStore) FindEventsBetween(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, from domain.Version, until domain.Version) ([]domain.StoredEvent, error) {
	return s.find(ctx, `
		SELECT aggregate_id, aggregate_type, version, event_name, event_version,
			payload, agent_type, agent_id, occurred_at, is_snapshot
		FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2 AND version >= $3 AND version <= $4
		ORDER BY version ASC`,
		string(id), string(typ), from.Int64(), until.Int64())
}

func (s *EventStore) RemoveEventsUpTo(ctx context.Context, id domain.AggregateID, typ domain.AggregateType, version domain.Version) error {
	_, err := s.q(ctx).Exec(ctx, `
		DELETE FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2 AND version <= $3`,
		string(id), string(typ), version.Int64())
	return err
}

func (s *EventStore) q(ctx context.Context) querier {
	if tx, ok := sharedPostgres.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

func (s *EventStore) findOne(ctx context.Context, sql string, args ...any) (*domain.StoredEvent, error) {
	event, err := scanEvent(s.q(ctx).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *EventStore) find(ctx context.Context, sql string, args ...any) ([]domain.StoredEvent, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.StoredEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.StoredEvent, error) {
	var (
		aggregateID   string
		aggregateType string
		version       int64
		eventName     string
		eventVersion  int
		payloadBytes  []byte
		agentType     string
		agentID       string
		occurredAt    time.Time
		isSnapshot    bool
	)
	if err := row.Scan(&aggregateID, &aggregateType, &version, &eventName, &eventVersion,
		&payloadBytes, &agentType, &agentID, &occurredAt, &isSnapshot); err != nil {
		return nil, err
	}

	var payload domain.Document
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, err
	}

	return &domain.StoredEvent{
		Name:          domain.EventName(eventName),
		SchemaVersion: eventVersion,
		Payload:       payload,
		Metadata: domain.EventMetadata{
			AggregateID:      domain.AggregateID(aggregateID),
			AggregateType:    domain.AggregateType(aggregateType),
			AggregateVersion: domain.Version(version),
			Agent: domain.Agent{
				Type: domain.AgentType(agentType),
				ID:   agentID,
			},
			OccurredAt: occurredAt,
			IsSnapshot: isSnapshot,
		},
	}, nil
}

var _ domain.EventStore = (*EventStore)(nil)

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/edufolio/adminconsole/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

var _ Store = (*PostgresStore)(nil)

// pgxQuerier is satisfied by *pgxpool.Pool.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db pgxQuerier
}

func NewPostgresStore(db pgxQuerier) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

func (ps *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := ps.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS console_session (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	); err != nil {
		return fmt.Errorf("create console_session table: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, key string) (string, bool) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.get")
	defer span.End()

	var value string
	err := ps.db.QueryRow(ctx, `SELECT value FROM console_session WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Errorf("postgres session store, get [%s]: %s", key, err)
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		return "", false
	}

	return value, true
}

func (ps *PostgresStore) Set(ctx context.Context, key, value string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.set")
	defer span.End()

	if _, err := ps.db.Exec(ctx, `
		INSERT INTO console_session (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert session key %s: %w", key, err)
	}

	return nil
}

func (ps *PostgresStore) Remove(ctx context.Context, key string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.remove")
	defer span.End()

	if _, err := ps.db.Exec(ctx, `DELETE FROM console_session WHERE key = $1`, key); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete session key %s: %w", key, err)
	}

	return nil
}

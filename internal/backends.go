package internal

import (
	"context"
	"fmt"
	"net"

	"github.com/edufolio/adminconsole/internal/config"
	"github.com/edufolio/adminconsole/internal/db"
	"github.com/edufolio/adminconsole/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type BackendsParams struct {
	RedisPassword    string
	PostgresPassword string
	TracingEnabled   bool
}

// Backends holds the shared connections: redis when a redis host is
// configured (session store, login rate limiting), postgres only when it
// backs the session store.
type Backends struct {
	Redis  *redis.Client
	DBPool *pgxpool.Pool
}

func OpenBackends(ctx context.Context, cfg *config.Config, params BackendsParams) (*Backends, error) {
	b := &Backends{}

	if cfg.RedisHost != "" {
		b.Redis = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})

		rdbStatus := b.Redis.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
	}

	if cfg.SessionStore == config.StorePostgres {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.TracingEnabled,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		b.DBPool = dbPool
	}

	return b, nil
}

func (b *Backends) Session() session.Backends {
	return session.Backends{
		Redis:    b.Redis,
		Postgres: b.DBPool,
	}
}

func (b *Backends) Close() {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}
	if b.DBPool != nil {
		log.Debugln("closing db pool ...")
		b.DBPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}
}

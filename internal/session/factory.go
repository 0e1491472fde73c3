package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/edufolio/adminconsole/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Backends carries the shared clients a store may be built on.
type Backends struct {
	Redis    *redis.Client
	Postgres *pgxpool.Pool
}

func NewStore(ctx context.Context, cfg *config.Config, backends Backends) (Store, error) {
	switch cfg.SessionStore {
	case config.StoreDisk:
		log.Debugf("using disk session store: %s", cfg.SessionFilePath)
		return NewDiskStore(cfg.SessionFilePath)
	case config.StoreMemory:
		log.Warnln("using in-memory session store, session will not survive a restart")
		return NewMemoryStore(), nil
	case config.StoreRedis:
		if backends.Redis == nil {
			return nil, errors.New("redis session store requires a redis client")
		}
		log.Debugf("using redis session store, key prefix [%s]", cfg.SessionKeyPrefix)
		return NewRedisStore(backends.Redis, cfg.SessionKeyPrefix).
			WithLocalCache(cfg.RedisCacheSizeMB), nil
	case config.StorePostgres:
		if backends.Postgres == nil {
			return nil, errors.New("postgres session store requires a db pool")
		}
		store := NewPostgresStore(backends.Postgres)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Debugln("using postgres session store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.SessionStore)
	}
}

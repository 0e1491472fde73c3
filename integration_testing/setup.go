//go:build integration

package integration_testing

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/edufolio/adminconsole/internal/db"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	serverHost  = "localhost"
	serverPort  = 9000
	metricsPort = "9001"

	pgDBName   = "edufolio_console"
	pgUser     = "postgres"
	pgPassword = "postgres"
)

type containers struct {
	dockerPool *dockertest.Pool
	redisPort  string
	pgPort     string
	teardown   []func()
}

func startContainers() (*containers, error) {
	c := &containers{}

	var err error
	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	c.dockerPool, err = dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("could not create new dockertest pool: %w", err)
	}

	// uses pool to try to connect to Docker
	if err = c.dockerPool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping dockertest pool: %w", err)
	}

	if err := c.redisSetup(); err != nil {
		c.cleanup()
		return nil, fmt.Errorf("failed to setup redis: %w", err)
	}

	if err := c.postgresSetup(); err != nil {
		c.cleanup()
		return nil, fmt.Errorf("failed to setup postgres: %w", err)
	}

	return c, nil
}

func (c *containers) cleanup() {
	for _, teardown := range c.teardown {
		teardown()
	}
}

func (c *containers) redisSetup() error {
	redisResource, err := c.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Name:       "edufolio-console-redis",
		Tag:        "6.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		return fmt.Errorf("run redis: %w", err)
	}
	c.teardown = append(c.teardown, func() {
		if err := redisResource.Close(); err != nil {
			log.Printf("close redis container: %s", err)
		}
	})

	c.redisPort = redisResource.GetPort("6379/tcp")

	return c.dockerPool.Retry(func() error {
		rdb := c.redisClient()
		defer rdb.Close()
		return rdb.Ping(context.Background()).Err()
	})
}

func (c *containers) postgresSetup() error {
	pgResource, err := c.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_USER=" + pgUser,
			"POSTGRES_PASSWORD=" + pgPassword,
			"POSTGRES_DB=" + pgDBName,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return fmt.Errorf("dockerpool run postgres: %w", err)
	}
	c.teardown = append(c.teardown, func() {
		if err := pgResource.Close(); err != nil {
			log.Printf("close postgres container: %s", err)
		}
	})

	c.pgPort = pgResource.GetPort("5432/tcp")

	return c.dockerPool.Retry(func() error {
		pool, err := c.dbPool(context.Background())
		if err != nil {
			return err
		}
		defer pool.Close()
		return pool.Ping(context.Background())
	})
}

func (c *containers) redisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort("localhost", c.redisPort),
	})
}

func (c *containers) dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:     "localhost",
		DBPort:     c.pgPort,
		DBName:     pgDBName,
		DBUser:     pgUser,
		DBPassword: pgPassword,
	})
}

package handler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck pings one backing service.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func PostgresCheck(sqlDB *sql.DB) ReadinessCheck {
	return ReadinessCheck{Name: "postgres", Ping: sqlDB.PingContext}
}

func RedisCheck(rdb *redis.Client) ReadinessCheck {
	return ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

func RegisterHealthRoutes(router fiber.Router, checks ...ReadinessCheck) {
	router.Get("/livez", LivezHandler())
	router.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

// ReadyzHandler pings every check in parallel and answers 503 if any is down.
func ReadyzHandler(checks ...ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(fiber.Map, len(checks))
			g       errgroup.Group
		)
		for _, check := range checks {
			g.Go(func() error {
				state := "ok"
				if err := check.Ping(ctx); err != nil {
					state = "down"
				}
				mu.Lock()
				results[check.Name] = state
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status, code := "ready", fiber.StatusOK
		for _, state := range results {
			if state == "down" {
				status, code = "not_ready", fiber.StatusServiceUnavailable
				break
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}

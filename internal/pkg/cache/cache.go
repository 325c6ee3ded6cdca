package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/RentFox/internal/pkg/env"
)

var client *goredis.Client

// SetupCache initializes the connection to the Redis compatible cache server.
// It is a no-op when CACHE_HOST is not set.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		log.Info("[Cache] CACHE_HOST not set, running without cache")
		return
	}
	port := env.GetEnv("CACHE_PORT", "6379")

	client = goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache: %v", err)
	} else {
		log.Infof("[Cache] Connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client, or nil when the cache is disabled.
func GetClient() *goredis.Client {
	return client
}

func Enabled() bool {
	return client != nil
}

// NewLimiterStorage returns a fiber storage on a separate database of the
// cache server so rate limits hold across instances. It returns nil when the
// cache is disabled, which makes the limiter fall back to memory.
func NewLimiterStorage() fiber.Storage {
	if client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: client.Options().Password,
		Database: env.GetEnvInt("CACHE_LIMITER_DB", 1),
		Reset:    false,
	})
}

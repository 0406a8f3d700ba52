package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/GearMarket/internal/pkg/config"
)

var sessionStore *session.Store

// NewSessionStore creates the cookie session store shared with the hosted
// auth platform. Sessions live in Redis database 1 (the cache uses 0); with
// useRedis false they are kept in process memory.
func NewSessionStore(cfg config.Cache, useRedis bool) *session.Store {
	sc := session.Config{
		CookieHTTPOnly: true,
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	}
	if useRedis {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil {
			port = 6379
		}
		sc.Storage = redis.New(redis.Config{
			Host:     cfg.Host,
			Port:     port,
			Password: cfg.Password,
			Database: 1,
			Reset:    false,
		})
	}

	sessionStore = session.New(sc)
	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	sess.Set(key, value)
	return sess.Save()
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	if sessionStore == nil {
		return ""
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}

	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}

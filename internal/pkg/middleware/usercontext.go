package middleware

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the session written by the hosted auth
// platform into a UserContext for every request. The role is read from the
// session first and otherwise loaded from the user table and cached.
func UserContextMiddleware(sessions *session.Store, users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{})

		sess, err := sessions.Get(c)
		if err != nil {
			return c.Next()
		}
		userID, ok := sessionUserID(sess.Get(usercontext.KeyUserID))
		if !ok {
			return c.Next()
		}

		username, _ := sess.Get(usercontext.KeyUsername).(string)
		role, _ := sess.Get(usercontext.KeyUserRole).(string)
		if role == "" {
			user, err := users.GetByID(c.UserContext(), userID)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					log.Errorf("[Auth] Failed to load user %d: %v", userID, err)
				}
				return c.Next()
			}
			if !user.IsActive() {
				return c.Next()
			}
			role = user.Role
			if username == "" {
				username = user.Name
			}
			sess.Set(usercontext.KeyUserRole, role)
			if err := sess.Save(); err != nil {
				log.Warnf("[Auth] Failed to cache role for user %d: %v", userID, err)
			}
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     userID,
			Username:   username,
			Role:       role,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

func sessionUserID(v interface{}) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id != 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return uint(n), err == nil && n != 0
	default:
		return 0, false
	}
}

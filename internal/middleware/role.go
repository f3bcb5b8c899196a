package middleware // middleware provides shared request processing for handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// UserSource loads the current user record.
type UserSource interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// RequireRole enforces that the authenticated user currently holds one
// of roles.  The role claim of the token is not trusted: the user is
// re-read on every request so a seller demoted by the scheduler loses
// seller routes immediately.  The fresh role replaces "role" in the
// context.  An empty roles list only requires an active account.
func RequireRole(users UserSource, roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
			}
			u, err := users.GetByID(c.Request().Context(), id)
			if errors.Is(err, repository.ErrUserNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if err != nil {
				utils.Error("role lookup failed", map[string]any{"user_id": id, "error": err.Error()})
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if !u.IsActive {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "inactive account"})
			}
			if len(allowed) > 0 && !allowed[u.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			c.Set(ctxRole, u.Role)
			return next(c)
		}
	}
}

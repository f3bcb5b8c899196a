package middleware // middleware contains the echo middleware of the HTTP surface

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-engine/internal/utils"
)

// JWTAuth returns an Echo middleware that validates the access token and
// stores the subject under "user_id" (uint64) and the token role under
// "role".  The token is read from the Authorization header or from the
// token query parameter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := utils.ParseAccessToken(secret, utils.TokenFromRequest(c.Request()))
			if err != nil {
				reason := utils.ErrTokenInvalid.Error()
				if errors.Is(err, utils.ErrTokenMissing) || errors.Is(err, utils.ErrTokenExpired) {
					reason = err.Error()
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": reason})
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

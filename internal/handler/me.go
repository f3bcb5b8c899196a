package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-engine/internal/middleware"
)

// MeHandler reports the caller's identity.
type MeHandler struct {
	Users middleware.UserSource
}

func NewMeHandler(users middleware.UserSource) *MeHandler { return &MeHandler{Users: users} }

// Me handles GET /v1/me.  It runs behind RequireRole, so the role is
// the one currently stored, which reflects any scheduler demotion.
func (h *MeHandler) Me(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.Users.GetByID(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := echo.Map{
		"id":        u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"role":      middleware.Role(c),
	}
	if u.SellerExpiresAt != nil {
		out["seller_expires_at"] = u.SellerExpiresAt
	}
	return c.JSON(http.StatusOK, out)
}

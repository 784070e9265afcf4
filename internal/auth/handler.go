package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthHandler exposes login and profile endpoints.
type AuthHandler struct {
	service *AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service *AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Login authenticates a credential and returns a JWT.
func (h *AuthHandler) Login(c echo.Context) error {
	var cred Credential
	if err := c.Bind(&cred); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": "invalid request",
		})
	}
	token, err := h.service.Authenticate(c.Request().Context(), cred)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": LoginResponse{Token: token},
	})
}

// Profile returns the authenticated caller's identity.
func (h *AuthHandler) Profile(c echo.Context) error {
	claims, ok := c.Get("user").(*JWTClaims)
	if !ok || claims == nil {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false, "message": "invalid or missing token",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]string{
			"userId":        claims.UserID,
			"username":      claims.Username,
			"role":          claims.Role,
			"institutionId": claims.InstitutionID,
		},
	})
}

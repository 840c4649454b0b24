package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the JWT claims accepted on admin actions.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errAdminDisabled = errors.New("admin actions disabled: ADMIN_JWT_SECRET not set")

// authorizeAdmin validates the bearer token for admin-only actions.
func authorizeAdmin(c *gin.Context, secret string) error {
	if secret == "" {
		return errAdminDisabled
	}

	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return errors.New("missing or malformed Authorization header")
	}

	token, err := jwt.ParseWithClaims(parts[1], &AdminClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return errors.New("invalid admin token")
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return errors.New("invalid admin token claims")
	}
	if claims.Role != "admin" {
		return errors.New("token lacks admin role")
	}
	return nil
}

package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/RentFox/internal/pkg/usercontext"
)

// Claims is the subset of the auth provider's access token the API relies on.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware authenticates requests carrying a bearer access token
// signed with the shared HS256 secret. The subject claim is the profile id.
func JWTAuthMiddleware(secret string) fiber.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *fiber.Ctx) error {
		// Preflight requests carry no credentials.
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		raw := extractBearerToken(c)
		if raw == "" || len(key) == 0 {
			return unauthorized(c)
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
				log.Warnf("[Auth] Rejected token: %v", err)
			}
			return unauthorized(c)
		}

		profileID := strings.TrimSpace(claims.Subject)
		if profileID == "" {
			return unauthorized(c)
		}

		usercontext.Set(c, usercontext.UserContext{
			ProfileID:  profileID,
			Email:      claims.Email,
			Role:       claims.Role,
			IsLoggedIn: true,
		})
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/pkg/utils"
	"go.uber.org/zap"
)

type AuthMiddleware struct {
	secret string
	logger *zap.Logger
}

func NewAuthMiddleware(jobSecret string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: jobSecret, logger: logger}
}

// JobAuth requires a bearer job token with the publish scope.
func (m *AuthMiddleware) JobAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		claims, err := utils.ValidateJobToken(m.secret, strings.TrimSpace(tokenString))
		if err != nil {
			m.logger.Warn("job token rejected", zap.String("ip", c.IP()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("job_subject", claims.Subject)
		return c.Next()
	}
}

package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var scriptPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=)`)

type Config struct {
	MaxNameLength     int
	MaxAnswerLength   int
	MaxLocationLength int
	Logger            *zap.Logger
}

// Middleware enforces coarse request hygiene on the session endpoints:
// content type, field sizes, and script injection in free-text fields.
// Semantic birth-detail validation lives in the questionnaire service.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 200
	}
	if cfg.MaxAnswerLength == 0 {
		cfg.MaxAnswerLength = 4000
	}
	if cfg.MaxLocationLength == 0 {
		cfg.MaxLocationLength = 300
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var body map[string]interface{}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		checks := []struct {
			field string
			max   int
		}{
			{"name", cfg.MaxNameLength},
			{"birth_location", cfg.MaxLocationLength},
			{"answer", cfg.MaxAnswerLength},
		}

		for _, check := range checks {
			value, ok := body[check.field].(string)
			if !ok {
				continue
			}
			if len(value) > check.max {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": check.field + " exceeds maximum length",
				})
			}
			if scriptPattern.MatchString(value) {
				cfg.Logger.Warn("Rejected suspicious input",
					zap.String("ip", c.IP()),
					zap.String("field", check.field),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + check.field + " content",
				})
			}
		}

		return c.Next()
	}
}

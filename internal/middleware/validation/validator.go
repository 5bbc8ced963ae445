package validation

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/pkg/logger"
)

type Config struct {
	MaxLimit     int
	MaxHoursBack int
	Logger       *zap.Logger
}

type intBound struct {
	min, max int
}

// Middleware rejects requests with a non-JSON body or with paging and window
// query parameters that are malformed or out of range.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.MaxHoursBack <= 0 {
		cfg.MaxHoursBack = 24 * 30
	}
	log := logger.OrNop(cfg.Logger).Named("validation")

	ints := map[string]intBound{
		"limit":      {1, cfg.MaxLimit},
		"offset":     {0, 1 << 30},
		"hours_back": {1, cfg.MaxHoursBack},
	}

	return func(c *fiber.Ctx) error {
		if (c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut) && len(c.Body()) > 0 {
			if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		for name, bound := range ints {
			raw := c.Query(name)
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < bound.min || n > bound.max {
				log.Debug("Rejected query parameter", zap.String("param", name), zap.String("value", raw))
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + name + ": must be an integer between " + strconv.Itoa(bound.min) + " and " + strconv.Itoa(bound.max),
				})
			}
		}

		if raw := c.Query("similarity_threshold"); raw != "" {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil || f <= 0 || f > 1 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid similarity_threshold: must be in (0, 1]",
				})
			}
		}

		return c.Next()
	}
}

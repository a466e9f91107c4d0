package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const queryLocal = "validated_query"

var (
	ErrEmptyQuery             = errors.New("query is required")
	ErrQueryTooLong           = errors.New("query exceeds maximum length")
	ErrInvalidEncoding        = errors.New("query must be valid UTF-8")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

type Config struct {
	MaxQueryLength int
	Logger         *zap.Logger
}

// ExtractQuery reads the question from a text/plain body or a JSON
// {"query": "..."} body, strips NUL bytes and surrounding whitespace and
// enforces maxLength in runes.
func ExtractQuery(contentType string, body []byte, maxLength int) (string, error) {
	var query string

	switch {
	case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
		var req struct {
			Query *string `json:"query"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("invalid JSON body: %w", err)
		}
		if req.Query == nil {
			return "", ErrEmptyQuery
		}
		query = *req.Query
	case contentType == "", strings.HasPrefix(contentType, fiber.MIMETextPlain):
		if !utf8.Valid(body) {
			return "", ErrInvalidEncoding
		}
		query = string(body)
	default:
		return "", ErrUnsupportedContentType
	}

	query = strings.TrimSpace(strings.ReplaceAll(query, "\x00", ""))
	if query == "" {
		return "", ErrEmptyQuery
	}
	if maxLength > 0 && utf8.RuneCountInString(query) > maxLength {
		return "", ErrQueryTooLong
	}
	return query, nil
}

// QueryBody validates the request body and stores the cleaned query for the
// handler. Rejected requests never reach the pipeline.
func QueryBody(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		query, err := ExtractQuery(c.Get(fiber.HeaderContentType), c.Body(), cfg.MaxQueryLength)
		if err != nil {
			cfg.Logger.Warn("Rejected query",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(statusFor(err)).JSON(fiber.Map{
				"message": "Invalid request",
				"error":   err.Error(),
			})
		}

		c.Locals(queryLocal, query)
		return c.Next()
	}
}

// Query returns the query stored by QueryBody.
func Query(c *fiber.Ctx) string {
	q, _ := c.Locals(queryLocal).(string)
	return q
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, ErrQueryTooLong):
		return fiber.StatusRequestEntityTooLarge
	default:
		return fiber.StatusBadRequest
	}
}

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/docs-agent/backend/internal/ingestion"
)

type IndexRunner interface {
	Run(ctx context.Context) (*ingestion.Report, error)
	State(ctx context.Context) (ingestion.State, error)
}

type IndexHandler struct {
	indexer IndexRunner
}

func NewIndexHandler(indexer IndexRunner) *IndexHandler {
	return &IndexHandler{indexer: indexer}
}

// EnsureIndexed runs the indexing gate now instead of on the first query.
func (h *IndexHandler) EnsureIndexed(c *fiber.Ctx) error {
	report, err := h.indexer.Run(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"alreadyIndexed": report.AlreadyIndexed,
		"documentKey":    report.DocumentKey,
		"publicURL":      report.PublicURL,
		"sections":       report.Sections,
		"indexed":        report.Indexed,
		"skipped":        report.Skipped,
		"durationMs":     report.Duration.Milliseconds(),
	})
}

func (h *IndexHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports the indexing state. Queries are served either way since the
// first one indexes on demand.
func (h *IndexHandler) Ready(c *fiber.Ctx) error {
	state, err := h.indexer.State(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":   "ready",
		"indexing": state.String(),
	})
}

package handlers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/history"
	"github.com/docs-agent/backend/internal/llm"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/internal/middleware/validation"
	"github.com/docs-agent/backend/internal/query"
	"github.com/docs-agent/backend/pkg/logger"
)

type Answerer interface {
	Answer(ctx context.Context, query string) (*query.Answer, error)
}

type HistoryReader interface {
	List(ctx context.Context) ([]history.Entry, error)
}

type QueryHandler struct {
	engine  Answerer
	history HistoryReader
}

func NewQueryHandler(engine Answerer, hist HistoryReader) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		history: hist,
	}
}

// HandleQuery streams the generated answer as text/plain. It expects the
// validation.QueryBody middleware in front of it.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	// The stream outlives this function, so the context is released by the
	// body writer rather than on return.
	ctx, cancel := context.WithCancel(c.UserContext())

	start := time.Now()
	answer, err := h.engine.Answer(ctx, validation.Query(c))
	if err != nil {
		cancel()
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set("X-Query-ID", answer.ID)
	c.Status(fiber.StatusOK)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer answer.Stream.Close()

		n, err := pipeStream(w, answer.Stream, func() {
			metrics.QueryDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
		})
		if err != nil {
			logger.Warn("Answer stream interrupted",
				zap.String("query_id", answer.ID),
				zap.Int("tokens", n),
				zap.Error(err),
			)
			return
		}
		logger.Info("Answer streamed", zap.String("query_id", answer.ID), zap.Int("tokens", n))
	})

	return nil
}

// pipeStream copies tokens to w, flushing after each so the client sees them
// as they arrive. A flush error means the client went away. first runs once,
// before the first token is written.
func pipeStream(w *bufio.Writer, stream llm.TextStream, first func()) (int, error) {
	n := 0
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if n == 0 && first != nil {
			first()
		}
		if _, err := w.WriteString(token); err != nil {
			return n, err
		}
		if err := w.Flush(); err != nil {
			return n, err
		}
		n++
	}
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	entries, err := h.history.List(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"history": entries,
		"count":   len(entries),
	})
}

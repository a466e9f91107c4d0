package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/internal/middleware/validation"
	"github.com/docs-agent/backend/pkg/logger"
)

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

type WebSocketHandler struct {
	engine         Answerer
	maxQueryLength int
}

func NewWebSocketHandler(engine Answerer, maxQueryLength int) *WebSocketHandler {
	return &WebSocketHandler{
		engine:         engine,
		maxQueryLength: maxQueryLength,
	}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection answers {"type":"query","content":"..."} messages, one at a
// time, streaming each answer as chunk messages followed by complete.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamAnswer(ctx, c, msg.Content); err != nil {
			logger.Warn("WebSocket stream ended", zap.Error(err))
			return
		}
	}
}

// streamAnswer returns an error only when the connection is no longer
// writable. Pipeline failures are reported to the client as error messages.
func (h *WebSocketHandler) streamAnswer(ctx context.Context, w jsonWriter, content string) error {
	q, err := validation.ExtractQuery(fiber.MIMETextPlain, []byte(content), h.maxQueryLength)
	if err != nil {
		return w.WriteJSON(fiber.Map{"type": "error", "error": err.Error()})
	}

	if err := w.WriteJSON(wsMessage{Type: "status", Content: "Processing query..."}); err != nil {
		return err
	}

	start := time.Now()
	answer, err := h.engine.Answer(ctx, q)
	if err != nil {
		logger.Error("Failed to answer WebSocket query", zap.Error(err))
		return w.WriteJSON(fiber.Map{"type": "error", "error": err.Error()})
	}
	defer answer.Stream.Close()

	tokens := 0
	for {
		token, err := answer.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("Answer stream failed", zap.String("query_id", answer.ID), zap.Error(err))
			return w.WriteJSON(fiber.Map{"type": "error", "error": err.Error()})
		}
		if tokens == 0 {
			metrics.QueryDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())
		}
		if err := w.WriteJSON(wsMessage{Type: "chunk", Content: token}); err != nil {
			return err
		}
		tokens++
	}

	return w.WriteJSON(fiber.Map{
		"type":       "complete",
		"message_id": answer.ID,
		"results":    len(answer.Results),
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

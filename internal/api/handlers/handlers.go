// Package handlers exposes the docs Q&A pipeline and the story competition
// over fiber.
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/competition"
	"github.com/docs-agent/backend/internal/query"
	"github.com/docs-agent/backend/pkg/logger"
)

const errorMessage = "Error processing request"

// errorResponse is the single catch boundary for pipeline failures.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{
		"message": errorMessage,
		"error":   err.Error(),
	}

	var verr *competition.ValidationError
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		status = fiber.StatusBadRequest
	case errors.As(err, &verr):
		body["fields"] = fieldMessages(verr)
	}

	logger.Error("Request failed",
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err),
	)
	return c.Status(status).JSON(body)
}

// badRequest reports a malformed inbound payload.
func badRequest(c *fiber.Ctx, err error) error {
	body := fiber.Map{
		"message": "Invalid request",
		"error":   err.Error(),
	}
	var verr *competition.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = fieldMessages(verr)
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func fieldMessages(verr *competition.ValidationError) []string {
	out := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		out = append(out, f.String())
	}
	return out
}

package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/docs-agent/backend/internal/competition"
)

const mimeMarkdown = "text/markdown; charset=utf-8"

type Competitor interface {
	Run(ctx context.Context, prompt string) (*competition.Result, error)
}

type CompetitionHandler struct {
	orchestrator Competitor
	writer       competition.StoryWriter
	judge        competition.Evaluator
}

func NewCompetitionHandler(orchestrator Competitor, writer competition.StoryWriter, judge competition.Evaluator) *CompetitionHandler {
	return &CompetitionHandler{
		orchestrator: orchestrator,
		writer:       writer,
		judge:        judge,
	}
}

// writerRequest accepts a plain text prompt or a JSON writer request.
func writerRequest(c *fiber.Ctx) (*competition.WriterRequest, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		return competition.DecodeWriterRequest(c.Body())
	}
	req := competition.WriterRequest{Prompt: strings.TrimSpace(string(c.Body()))}
	if err := competition.Validate("writer request", req); err != nil {
		return nil, err
	}
	return &req, nil
}

// RunCompetition returns the markdown report.
func (h *CompetitionHandler) RunCompetition(c *fiber.Ctx) error {
	req, err := writerRequest(c)
	if err != nil {
		return badRequest(c, err)
	}

	result, err := h.orchestrator.Run(c.UserContext(), req.Prompt)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, mimeMarkdown)
	return c.SendString(result.Report)
}

// Write returns both stories as markdown.
func (h *CompetitionHandler) Write(c *fiber.Ctx) error {
	req, err := writerRequest(c)
	if err != nil {
		return badRequest(c, err)
	}

	stories, err := h.writer.Write(c.UserContext(), *req)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, mimeMarkdown)
	return c.SendString(stories.Markdown())
}

// Judge evaluates {"stories","prompt"} and returns the validated judgment.
func (h *CompetitionHandler) Judge(c *fiber.Ctx) error {
	req, err := competition.DecodeJudgeRequest(c.Body())
	if err != nil {
		return badRequest(c, err)
	}

	judgment, err := h.judge.Evaluate(c.UserContext(), *req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(judgment)
}

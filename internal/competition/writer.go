package competition

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docs-agent/backend/internal/llm"
	"github.com/docs-agent/backend/pkg/logger"
)

const storytellerPrompt = `You are a creative storyteller. Write a short, original story of about 200 words ` +
	`based on the user's prompt. Give it a clear beginning, middle and end, vivid details, ` +
	`and a memorable final line. Respond with the story only.`

type TextGenerator interface {
	GenerateText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Backend is one competing model.
type Backend struct {
	Label     string
	Model     string
	Generator TextGenerator
}

type Story struct {
	Label string
	Text  string
}

type Stories struct {
	First  Story
	Second Story
}

// Markdown renders both stories under their labels, separated by a rule.
func (s Stories) Markdown() string {
	return fmt.Sprintf("### %s\n\n%s\n\n---\n\n### %s\n\n%s",
		s.First.Label, s.First.Text, s.Second.Label, s.Second.Text)
}

// Label returns the label of the story in the given winner position.
func (s Stories) Label(winner string) string {
	if winner == WinnerSecond {
		return s.Second.Label
	}
	return s.First.Label
}

type Writer struct {
	first  Backend
	second Backend
}

func NewWriter(first, second Backend) *Writer {
	return &Writer{first: first, second: second}
}

// Write asks both backends for a story concurrently with the same system prompt.
func (w *Writer) Write(ctx context.Context, req WriterRequest) (*Stories, error) {
	if err := Validate("writer request", req); err != nil {
		return nil, err
	}

	logger.Info("Writer generating stories",
		zap.String("first", w.first.Label),
		zap.String("second", w.second.Label),
	)

	stories := &Stories{
		First:  Story{Label: w.first.Label},
		Second: Story{Label: w.second.Label},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := w.generate(gctx, w.first, req.Prompt)
		stories.First.Text = text
		return err
	})
	g.Go(func() error {
		text, err := w.generate(gctx, w.second, req.Prompt)
		stories.Second.Text = text
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Both stories generated",
		zap.Int("first_length", len(stories.First.Text)),
		zap.Int("second_length", len(stories.Second.Text)),
	)
	return stories, nil
}

func (w *Writer) generate(ctx context.Context, b Backend, prompt string) (string, error) {
	resp, err := b.Generator.GenerateText(ctx, llm.CompletionRequest{
		Model:        b.Model,
		SystemPrompt: storytellerPrompt,
		UserPrompt:   prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate story with %s: %w", b.Label, err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%s returned an empty story", b.Label)
	}
	return text, nil
}

package competition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/pkg/logger"
)

type StoryWriter interface {
	Write(ctx context.Context, req WriterRequest) (*Stories, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, req JudgeRequest) (*Judgment, error)
}

type Orchestrator struct {
	writer StoryWriter
	judge  Evaluator
}

type Result struct {
	Prompt   string
	Stories  *Stories
	Judgment *Judgment
	Report   string
}

func NewOrchestrator(writer StoryWriter, judge Evaluator) *Orchestrator {
	return &Orchestrator{writer: writer, judge: judge}
}

// Run generates both stories, judges them and formats the report.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	start := time.Now()
	logger.Info("Competition started", zap.String("prompt", prompt))

	result, err := o.run(ctx, prompt)
	if err != nil {
		metrics.CompetitionRuns.WithLabelValues("error").Inc()
		logger.Error("Competition failed", zap.Error(err))
		return nil, err
	}

	metrics.CompetitionRuns.WithLabelValues("success").Inc()
	logger.Info("Competition finished",
		zap.String("winner", result.Judgment.Winner),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, prompt string) (*Result, error) {
	stories, err := o.writer.Write(ctx, WriterRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	markdown := stories.Markdown()
	judgment, err := o.judge.Evaluate(ctx, JudgeRequest{Stories: markdown, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	return &Result{
		Prompt:   prompt,
		Stories:  stories,
		Judgment: judgment,
		Report:   FormatReport(judgment, markdown, stories.Label(judgment.Winner)),
	}, nil
}

// FormatReport renders the competition outcome as markdown.
func FormatReport(j *Judgment, storiesMarkdown, winnerLabel string) string {
	winner := strings.ToUpper(j.Winner)
	if winnerLabel != "" {
		winner = fmt.Sprintf("%s (%s)", winner, winnerLabel)
	}

	return fmt.Sprintf(`# Story Competition Results

## Competing Stories

%s

---

## Judge's Analysis

**Winner:** %s

**Why it won:** %s

**Suggestions for improvement:** %s
`, storiesMarkdown, winner, j.Reasoning, j.Improvements)
}

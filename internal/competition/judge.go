package competition

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/llm"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/pkg/logger"
)

const criticPrompt = "You are an expert story critic who provides detailed, constructive evaluations."

type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req llm.StructuredRequest, out any) error
}

type Judge struct {
	generator StructuredGenerator
	model     string
	schema    *jsonschema.Definition
}

func NewJudge(generator StructuredGenerator, model string) (*Judge, error) {
	schema, err := JudgmentSchema()
	if err != nil {
		return nil, err
	}
	return &Judge{generator: generator, model: model, schema: schema}, nil
}

// JudgmentSchema is the JSON schema the judge model must answer with.
func JudgmentSchema() (*jsonschema.Definition, error) {
	schema, err := jsonschema.GenerateSchemaForType(Judgment{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate judgment schema: %w", err)
	}
	return schema, nil
}

func buildEvaluationPrompt(req JudgeRequest) string {
	return fmt.Sprintf(`You are an expert story critic. Evaluate these two stories and pick the winner.

Original prompt: %s

%s

The story under the first heading is "first" and the story under the second heading is "second".
Pick the winner based on creativity, narrative quality, and adherence to the prompt. Provide specific reasoning and constructive feedback for improvement.`, req.Prompt, req.Stories)
}

// Evaluate returns a fully validated Judgment or a *ValidationError.
func (j *Judge) Evaluate(ctx context.Context, req JudgeRequest) (*Judgment, error) {
	if err := Validate("judge request", req); err != nil {
		return nil, err
	}

	logger.Info("Judge evaluating stories", zap.String("model", j.model))

	var judgment Judgment
	err := j.generator.GenerateStructured(ctx, llm.StructuredRequest{
		CompletionRequest: llm.CompletionRequest{
			Model:        j.model,
			SystemPrompt: criticPrompt,
			UserPrompt:   buildEvaluationPrompt(req),
		},
		SchemaName: "judgment",
		Schema:     j.schema,
	}, &judgment)
	if errors.Is(err, llm.ErrSchemaMismatch) {
		metrics.SchemaValidationFailures.WithLabelValues("judgment").Inc()
		return nil, &ValidationError{Schema: "judgment", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate stories: %w", err)
	}

	if err := Validate("judgment", judgment); err != nil {
		return nil, err
	}

	metrics.CompetitionWinner.WithLabelValues(judgment.Winner).Inc()
	logger.Info("Winner selected", zap.String("winner", judgment.Winner))
	return &judgment, nil
}

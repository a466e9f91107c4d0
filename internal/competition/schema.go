// Package competition runs two writer models against the same prompt and has
// a judge model pick the better story with a schema-validated verdict.
package competition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/docs-agent/backend/internal/metrics"
)

const (
	WinnerFirst  = "first"
	WinnerSecond = "second"
)

// WriterRequest is the payload accepted by the writer.
type WriterRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

// JudgeRequest carries the stories markdown and the prompt that produced it.
type JudgeRequest struct {
	Stories string `json:"stories" validate:"required"`
	Prompt  string `json:"prompt" validate:"required"`
}

// Judgment is the judge's verdict. Every field is required.
type Judgment struct {
	Winner       string `json:"winner" validate:"required,oneof=first second" enum:"first,second" description:"Which story won: first or second"`
	WinningText  string `json:"winningText" validate:"required" description:"The full text of the winning story"`
	Reasoning    string `json:"reasoning" validate:"required" description:"Why this story won, in 2-3 sentences"`
	Improvements string `json:"improvements" validate:"required" description:"Specific feedback to make the winning story even better"`
}

type FieldError struct {
	Field string
	Rule  string
	Value any
}

func (f FieldError) String() string {
	switch f.Rule {
	case "required":
		return fmt.Sprintf("%s is required", f.Field)
	case "oneof":
		return fmt.Sprintf("%s has invalid value %v", f.Field, f.Value)
	default:
		return fmt.Sprintf("%s failed %s", f.Field, f.Rule)
	}
}

// ValidationError reports a payload that does not match its schema. No
// partially decoded object accompanies it.
type ValidationError struct {
	Schema string
	Fields []FieldError
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid %s: %v", e.Schema, e.Err)
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("invalid %s: %s", e.Schema, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks v against its struct tags. schema names the payload in
// the returned *ValidationError.
func Validate(schema string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Schema: schema, Err: err}
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{Field: fe.Field(), Rule: fe.Tag(), Value: fe.Value()}
	}
	metrics.SchemaValidationFailures.WithLabelValues(schema).Inc()
	return &ValidationError{Schema: schema, Fields: fields, Err: err}
}

// decode unmarshals data strictly into out and validates the result. out is
// left zeroed on failure.
func decode[T any](schema string, data []byte) (*T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		metrics.SchemaValidationFailures.WithLabelValues(schema).Inc()
		return nil, &ValidationError{Schema: schema, Err: err}
	}
	if err := Validate(schema, out); err != nil {
		return nil, err
	}
	return &out, nil
}

func DecodeWriterRequest(data []byte) (*WriterRequest, error) {
	return decode[WriterRequest]("writer request", data)
}

func DecodeJudgeRequest(data []byte) (*JudgeRequest, error) {
	return decode[JudgeRequest]("judge request", data)
}

func DecodeJudgment(data []byte) (*Judgment, error) {
	return decode[Judgment]("judgment", data)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/internal/competition"
	"github.com/docs-agent/backend/internal/history"
	"github.com/docs-agent/backend/internal/ingestion"
	"github.com/docs-agent/backend/internal/middleware/validation"
	"github.com/docs-agent/backend/internal/query"
	"github.com/docs-agent/backend/internal/vector"
)

type tokenStream struct {
	tokens []string
	err    error
	closed atomic.Bool
}

func (s *tokenStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *tokenStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeEngine struct {
	stream *tokenStream
	err    error
	got    string
}

func (f *fakeEngine) Answer(_ context.Context, q string) (*query.Answer, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	return &query.Answer{
		ID:      "q-1",
		Query:   q,
		Results: []vector.SearchResult{{Key: "k"}},
		Stream:  f.stream,
	}, nil
}

type fakeHistory struct {
	entries []history.Entry
	err     error
}

func (f fakeHistory) List(context.Context) ([]history.Entry, error) { return f.entries, f.err }

func queryApp(engine Answerer, hist HistoryReader) *fiber.App {
	h := NewQueryHandler(engine, hist)
	app := fiber.New()
	app.Post("/api/v1/query", validation.QueryBody(validation.Config{MaxQueryLength: 100}), h.HandleQuery)
	app.Get("/api/v1/query/history", h.GetQueryHistory)
	return app
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandleQueryStreamsAnswer(t *testing.T) {
	stream := &tokenStream{tokens: []string{"Core ", "benefits ", "include lower cost."}}
	engine := &fakeEngine{stream: stream}
	app := queryApp(engine, fakeHistory{})

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("What are the core benefits?"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "q-1", resp.Header.Get("X-Query-ID"))
	assert.Equal(t, "Core benefits include lower cost.", readBody(t, resp))
	assert.Equal(t, "What are the core benefits?", engine.got)
	assert.True(t, stream.closed.Load())
}

func TestHandleQueryAcceptsJSON(t *testing.T) {
	engine := &fakeEngine{stream: &tokenStream{tokens: []string{"ok"}}}
	app := queryApp(engine, fakeHistory{})

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader(`{"query":"what is agentuity?"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "what is agentuity?", engine.got)
}

func TestHandleQueryPipelineError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("vector index unavailable")}
	app := queryApp(engine, fakeHistory{})

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Error processing request", body["message"])
	assert.Equal(t, "vector index unavailable", body["error"])
}

func TestHandleQueryRejectsEmptyBody(t *testing.T) {
	engine := &fakeEngine{}
	app := queryApp(engine, fakeHistory{})

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("   "))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, engine.got)
}

func TestHandleQueryStreamErrorTruncates(t *testing.T) {
	stream := &tokenStream{tokens: []string{"partial"}, err: errors.New("upstream reset")}
	app := queryApp(&fakeEngine{stream: stream}, fakeHistory{})

	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", readBody(t, resp))
	assert.True(t, stream.closed.Load())
}

func TestGetQueryHistory(t *testing.T) {
	entries := []history.Entry{
		{ID: "1", Query: "core benefits", Timestamp: time.Unix(1700000000, 0).UTC(), ResultCount: 1, TopResultTitle: "Core Benefits"},
		{ID: "2", Query: "xyz", Timestamp: time.Unix(1700000001, 0).UTC(), ResultCount: 0, TopResultTitle: history.NoTopResult},
	}
	app := queryApp(&fakeEngine{}, fakeHistory{entries: entries})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/query/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		History []history.Entry `json:"history"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, entries, body.History)
}

func TestGetQueryHistoryError(t *testing.T) {
	app := queryApp(&fakeEngine{}, fakeHistory{err: errors.New("corrupt history")})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/query/history", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

type recordingWriter struct {
	messages []map[string]any
	failAt   int
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	if w.failAt > 0 && len(w.messages) >= w.failAt {
		return errors.New("broken pipe")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	w.messages = append(w.messages, m)
	return nil
}

func (w *recordingWriter) types() []string {
	out := make([]string, len(w.messages))
	for i, m := range w.messages {
		out[i] = fmt.Sprint(m["type"])
	}
	return out
}

func TestWebSocketStreamAnswer(t *testing.T) {
	stream := &tokenStream{tokens: []string{"a", "b"}}
	h := NewWebSocketHandler(&fakeEngine{stream: stream}, 100)
	w := &recordingWriter{}

	require.NoError(t, h.streamAnswer(context.Background(), w, "core benefits"))

	assert.Equal(t, []string{"status", "chunk", "chunk", "complete"}, w.types())
	assert.Equal(t, "a", w.messages[1]["content"])
	assert.Equal(t, "q-1", w.messages[3]["message_id"])
	assert.EqualValues(t, 1, w.messages[3]["results"])
	assert.True(t, stream.closed.Load())
}

func TestWebSocketReportsErrors(t *testing.T) {
	h := NewWebSocketHandler(&fakeEngine{err: errors.New("boom")}, 100)

	w := &recordingWriter{}
	require.NoError(t, h.streamAnswer(context.Background(), w, ""))
	assert.Equal(t, []string{"error"}, w.types())

	w = &recordingWriter{}
	require.NoError(t, h.streamAnswer(context.Background(), w, "hello"))
	assert.Equal(t, []string{"status", "error"}, w.types())
	assert.Equal(t, "boom", w.messages[1]["error"])
}

func TestWebSocketStopsWhenClientGone(t *testing.T) {
	stream := &tokenStream{tokens: []string{"a", "b", "c"}}
	h := NewWebSocketHandler(&fakeEngine{stream: stream}, 100)
	w := &recordingWriter{failAt: 2}

	err := h.streamAnswer(context.Background(), w, "hello")
	assert.Error(t, err)
	assert.True(t, stream.closed.Load())
}

type fakeIndexer struct {
	report *ingestion.Report
	state  ingestion.State
	err    error
}

func (f fakeIndexer) Run(context.Context) (*ingestion.Report, error) { return f.report, f.err }

func (f fakeIndexer) State(context.Context) (ingestion.State, error) { return f.state, f.err }

func indexApp(ix IndexRunner) *fiber.App {
	h := NewIndexHandler(ix)
	app := fiber.New()
	app.Post("/api/v1/index", h.EnsureIndexed)
	app.Get("/api/v1/health", h.Health)
	app.Get("/api/v1/ready", h.Ready)
	return app
}

func TestIndexEndpoints(t *testing.T) {
	app := indexApp(fakeIndexer{
		report: &ingestion.Report{DocumentKey: "llms-1.txt", Sections: 5, Indexed: 5, Duration: 40 * time.Millisecond},
		state:  ingestion.Indexed,
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/index", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var report map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "llms-1.txt", report["documentKey"])
	assert.EqualValues(t, 5, report["indexed"])
	assert.EqualValues(t, 40, report["durationMs"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/ready", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var ready map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, "indexed", ready["indexing"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestIndexEndpointsFailure(t *testing.T) {
	app := indexApp(fakeIndexer{err: errors.New("kv down")})

	resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/index", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

type fakeCompetitor struct{ got string }

func (f *fakeCompetitor) Run(_ context.Context, prompt string) (*competition.Result, error) {
	f.got = prompt
	return &competition.Result{Prompt: prompt, Report: "# Story Competition Results"}, nil
}

type fakeWriter struct{}

func (fakeWriter) Write(_ context.Context, req competition.WriterRequest) (*competition.Stories, error) {
	return &competition.Stories{
		First:  competition.Story{Label: "A", Text: "one " + req.Prompt},
		Second: competition.Story{Label: "B", Text: "two " + req.Prompt},
	}, nil
}

type fakeJudge struct{ err error }

func (f fakeJudge) Evaluate(context.Context, competition.JudgeRequest) (*competition.Judgment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &competition.Judgment{Winner: "second", WinningText: "two", Reasoning: "r", Improvements: "i"}, nil
}

func competitionApp(orch Competitor, judge competition.Evaluator) *fiber.App {
	h := NewCompetitionHandler(orch, fakeWriter{}, judge)
	app := fiber.New()
	app.Post("/api/v1/competition", h.RunCompetition)
	app.Post("/api/v1/agents/writer", h.Write)
	app.Post("/api/v1/agents/judge", h.Judge)
	return app
}

func TestCompetitionEndpoint(t *testing.T) {
	orch := &fakeCompetitor{}
	app := competitionApp(orch, fakeJudge{})

	req := httptest.NewRequest("POST", "/api/v1/competition", strings.NewReader("A detective who solves mysteries using AI"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "# Story Competition Results", readBody(t, resp))
	assert.Equal(t, "A detective who solves mysteries using AI", orch.got)
}

func TestCompetitionRejectsEmptyPrompt(t *testing.T) {
	app := competitionApp(&fakeCompetitor{}, fakeJudge{})

	req := httptest.NewRequest("POST", "/api/v1/competition", strings.NewReader(`{"prompt":""}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []any{"prompt is required"}, body["fields"])
}

func TestWriterEndpoint(t *testing.T) {
	app := competitionApp(&fakeCompetitor{}, fakeJudge{})

	req := httptest.NewRequest("POST", "/api/v1/agents/writer", strings.NewReader(`{"prompt":"space"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "### A\n\none space\n\n---\n\n### B\n\ntwo space", readBody(t, resp))
}

func TestJudgeEndpoint(t *testing.T) {
	app := competitionApp(&fakeCompetitor{}, fakeJudge{})

	req := httptest.NewRequest("POST", "/api/v1/agents/judge", strings.NewReader(`{"stories":"### A","prompt":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var j competition.Judgment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	assert.Equal(t, "second", j.Winner)
}

func TestJudgeEndpointInvalidModelOutput(t *testing.T) {
	verr := &competition.ValidationError{
		Schema: "judgment",
		Fields: []competition.FieldError{{Field: "reasoning", Rule: "required"}},
	}
	app := competitionApp(&fakeCompetitor{}, fakeJudge{err: verr})

	req := httptest.NewRequest("POST", "/api/v1/agents/judge", strings.NewReader(`{"stories":"s","prompt":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []any{"reasoning is required"}, body["fields"])
}

func TestJudgeEndpointRejectsUnknownFields(t *testing.T) {
	app := competitionApp(&fakeCompetitor{}, fakeJudge{})

	req := httptest.NewRequest("POST", "/api/v1/agents/judge", strings.NewReader(`{"stories":"s","prompt":"p","extra":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestWelcome(t *testing.T) {
	app := fiber.New()
	app.Get("/api/v1/welcome", Welcome)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/welcome?agent=docs", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var w welcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&w))
	assert.Len(t, w.Prompts, 3)
	assert.Equal(t, "What is Agentuity?", w.Prompts[0].Data)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/welcome", nil))
	require.NoError(t, err)
	var all map[string]welcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Contains(t, all, "competition")

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/welcome?agent=nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

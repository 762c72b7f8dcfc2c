package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/strand-ml/strand/internal/generate"
	"github.com/strand-ml/strand/internal/logger"
)

type stubProvider struct {
	engine Engine
	err    error
}

func (p stubProvider) WithEngine(ctx context.Context, modelID string, fn func(engine Engine) error) error {
	if p.err != nil {
		return p.err
	}
	return fn(p.engine)
}

type stubEngine struct {
	text   string
	reason generate.StopReason
	err    error

	gotPrompt string
	gotOpts   generate.Options
}

func (e *stubEngine) Generate(ctx context.Context, prompt string, opts generate.Options) (*generate.Result, error) {
	e.gotPrompt = prompt
	e.gotOpts = opts
	if e.err != nil {
		return nil, e.err
	}
	if opts.Stream != nil {
		for _, chunk := range []string{e.text[:1], e.text[1:]} {
			opts.Stream(chunk, false)
		}
		opts.Stream("", true)
	}
	reason := e.reason
	if reason == "" {
		reason = generate.StopEOS
	}
	return &generate.Result{
		Text:   e.text,
		Reason: reason,
		Stats: generate.Stats{
			PromptTokens:    3,
			TokensGenerated: 2,
			Duration:        10 * time.Millisecond,
		},
	}, nil
}

func (e *stubEngine) Close() error { return nil }

func newTestEcho(engine Engine, providerErr error) *echo.Echo {
	server := NewServer(stubProvider{engine: engine, err: providerErr}, 2, logger.Nop())
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCompletionSync(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{text: "ok"}
	e := newTestEcho(engine, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","max_tokens":8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp CompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "cmpl-") {
		t.Fatalf("unexpected id %q", resp.ID)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Text != "ok" {
		t.Fatalf("unexpected choices: %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason == nil || *resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %v", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if engine.gotPrompt != "hi" {
		t.Fatalf("engine saw prompt %q", engine.gotPrompt)
	}
	if engine.gotOpts.MaxNewTokens == nil || *engine.gotOpts.MaxNewTokens != 8 {
		t.Fatalf("max tokens not forwarded: %+v", engine.gotOpts.MaxNewTokens)
	}
}

func TestCompletionValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubEngine{text: "ok"}, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt: got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "prompt is required") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/completions", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStopAcceptsStringOrArray(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{text: "ok"}
	e := newTestEcho(engine, nil)

	doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","stop":"END"}`)
	if len(engine.gotOpts.Stop) != 1 || engine.gotOpts.Stop[0] != "END" {
		t.Fatalf("string stop: %v", engine.gotOpts.Stop)
	}

	doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","stop":["a","b"]}`)
	if len(engine.gotOpts.Stop) != 2 || engine.gotOpts.Stop[1] != "b" {
		t.Fatalf("array stop: %v", engine.gotOpts.Stop)
	}
}

func TestModelNotFound(t *testing.T) {
	t.Parallel()

	e := newTestEcho(nil, newNotFound(`model "missing" not found`))
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","model":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestEngineErrorIsServerError(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubEngine{err: errors.New("forward pass failed")}, nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "forward pass failed") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestCompletionStreaming(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{text: "ok", reason: generate.StopMaxTokens}
	e := newTestEcho(engine, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("missing DONE terminator: %q", body)
	}

	var chunks []CompletionChunk
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var chunk CompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", payload, err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %s", len(chunks), body)
	}
	if got := chunks[0].Choices[0].Text + chunks[1].Choices[0].Text; got != "ok" {
		t.Fatalf("streamed text %q", got)
	}
	last := chunks[2]
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "length" {
		t.Fatalf("final chunk finish reason: %+v", last.Choices[0])
	}
	if last.Usage == nil || last.Usage.CompletionTokens != 2 {
		t.Fatalf("final chunk usage: %+v", last.Usage)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubEngine{text: "ok"}, nil)
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id":"strand"`) {
		t.Fatalf("unexpected models body: %s", rec.Body.String())
	}
}

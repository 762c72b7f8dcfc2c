// Package api exposes generation over HTTP: an OpenAI-style completions
// endpoint with optional SSE streaming, backed by a cached model provider.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/sync/semaphore"

	"github.com/strand-ml/strand/internal/generate"
	"github.com/strand-ml/strand/internal/logger"
)

const defaultModelName = "strand"

// Server handles the HTTP surface. In-flight generations are bounded by a
// weighted semaphore; excess requests queue until a slot frees up or the
// client gives up.
type Server struct {
	provider Provider
	sem      *semaphore.Weighted
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(provider Provider, maxConcurrent int64, log logger.Logger) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		provider: provider,
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/completions", s.handleCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	modelIDs := []string{defaultModelName}
	if lister, ok := s.provider.(interface {
		ListModels() ([]string, error)
	}); ok {
		discovered, err := lister.ListModels()
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		if len(discovered) > 0 {
			modelIDs = discovered
		}
	}

	data := make([]map[string]any, 0, len(modelIDs))
	for _, id := range modelIDs {
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  s.clock().Unix(),
			"owned_by": "local",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handleCompletions(c *echo.Context) error {
	var req CompletionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeBadRequest(c, "invalid JSON body: "+err.Error())
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required and must not be empty")
	}

	ctx := c.Request().Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "request cancelled while queued")
	}
	defer s.sem.Release(1)

	completionID := "cmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := req.Model
	if model == "" {
		model = defaultModelName
	}

	if req.Stream != nil && *req.Stream {
		return s.completeStream(c, req, completionID, created, model)
	}
	return s.completeSync(c, req, completionID, created, model)
}

func (s *Server) completeSync(c *echo.Context, req CompletionRequest, completionID string, created int64, model string) error {
	var result *generate.Result
	err := s.provider.WithEngine(c.Request().Context(), req.Model, func(engine Engine) error {
		var err error
		result, err = engine.Generate(c.Request().Context(), req.Prompt, requestOptions(req))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return writeNotFound(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	reason := finishReason(result.Reason)
	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      completionID,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Text:         result.Text,
			FinishReason: &reason,
		}},
		Usage: usage(result),
	})
}

func (s *Server) completeStream(c *echo.Context, req CompletionRequest, completionID string, created int64, model string) error {
	sse, err := newSSEWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	chunk := func(text string, reason *string, u *CompletionUsage) CompletionChunk {
		return CompletionChunk{
			ID:      completionID,
			Object:  "text_completion.chunk",
			Created: created,
			Model:   model,
			Choices: []CompletionChoice{{
				Index:        0,
				Text:         text,
				FinishReason: reason,
			}},
			Usage: u,
		}
	}

	var result *generate.Result
	var sendErr error
	err = s.provider.WithEngine(c.Request().Context(), req.Model, func(engine Engine) error {
		opts := requestOptions(req)
		opts.Stream = func(text string, final bool) {
			if sendErr != nil || text == "" {
				return
			}
			sendErr = sse.Send(chunk(text, nil, nil))
		}
		var err error
		result, err = engine.Generate(c.Request().Context(), req.Prompt, opts)
		return err
	})
	if err != nil {
		if !sse.Started() {
			if errors.Is(err, ErrNotFound) {
				return writeNotFound(c, err.Error())
			}
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		s.log.Error("stream aborted", "error", err)
		_ = sse.Send(map[string]any{"error": ErrorBody{Message: err.Error(), Type: "server_error"}})
		return sse.Done()
	}
	if sendErr != nil {
		s.log.Warn("client dropped stream", "error", sendErr)
		return nil
	}

	reason := finishReason(result.Reason)
	u := usage(result)
	if err := sse.Send(chunk("", &reason, &u)); err != nil {
		return nil
	}
	return sse.Done()
}

// requestOptions maps the wire request onto generation options. Nil fields
// stay nil so the model's own defaults apply.
func requestOptions(req CompletionRequest) generate.Options {
	opts := generate.Options{
		MaxNewTokens:      req.MaxTokens,
		Temperature:       req.Temperature,
		TopK:              req.TopK,
		TopP:              req.TopP,
		RepetitionPenalty: req.RepetitionPenalty,
		NoRepeatNgram:     req.NoRepeatNgram,
		Seed:              req.Seed,
	}
	if req.Stop != nil {
		opts.Stop = req.Stop.Sequences
	}
	return opts
}

func finishReason(r generate.StopReason) string {
	switch r {
	case generate.StopMaxTokens:
		return "length"
	case generate.StopEOS, generate.StopSequence:
		return "stop"
	case generate.StopCancelled:
		return "cancelled"
	default:
		return string(r)
	}
}

func usage(result *generate.Result) CompletionUsage {
	return CompletionUsage{
		PromptTokens:     result.Stats.PromptTokens,
		CompletionTokens: result.Stats.TokensGenerated,
		TotalTokens:      result.Stats.PromptTokens + result.Stats.TokensGenerated,
	}
}

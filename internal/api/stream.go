package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// sseWriter emits server-sent events over an echo response. Every event is
// flushed immediately so token deltas reach the client as they are sampled.
type sseWriter struct {
	w       io.Writer
	flusher func()
	wrote   bool
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &sseWriter{w: res, flusher: flusher.Flush}, nil
}

func (s *sseWriter) Send(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", string(b)); err != nil {
		return err
	}
	s.wrote = true
	s.flush()
	return nil
}

// Done terminates the stream the way OpenAI-style clients expect.
func (s *sseWriter) Done() error {
	_, err := io.WriteString(s.w, "data: [DONE]\n\n")
	s.flush()
	return err
}

func (s *sseWriter) Started() bool {
	return s.wrote
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}

package api

import (
	"fmt"

	"github.com/goccy/go-json"
)

// CompletionRequest is the body of POST /v1/completions. Nil knobs fall
// back to the model's generation defaults.
type CompletionRequest struct {
	Model             string     `json:"model,omitempty"`
	Prompt            string     `json:"prompt"`
	MaxTokens         *int       `json:"max_tokens,omitempty"`
	Temperature       *float32   `json:"temperature,omitempty"`
	TopK              *int       `json:"top_k,omitempty"`
	TopP              *float32   `json:"top_p,omitempty"`
	RepetitionPenalty *float32   `json:"repetition_penalty,omitempty"`
	NoRepeatNgram     *int       `json:"no_repeat_ngram_size,omitempty"`
	Seed              *int64     `json:"seed,omitempty"`
	Stop              *StopValue `json:"stop,omitempty"`
	Stream            *bool      `json:"stream,omitempty"`
}

// StopValue accepts either a single stop string or an array of them.
type StopValue struct {
	Sequences []string
}

func (v *StopValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return fmt.Errorf("stop value: nil receiver")
	}
	if len(b) == 0 || string(b) == "null" {
		*v = StopValue{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("stop value: %w", err)
		}
		v.Sequences = []string{s}
		return nil
	case '[':
		var seqs []string
		if err := json.Unmarshal(b, &seqs); err != nil {
			return fmt.Errorf("stop value: %w", err)
		}
		v.Sequences = seqs
		return nil
	default:
		return fmt.Errorf("stop value: expected string or array of strings")
	}
}

func (v StopValue) MarshalJSON() ([]byte, error) {
	if len(v.Sequences) == 1 {
		return json.Marshal(v.Sequences[0])
	}
	if v.Sequences != nil {
		return json.Marshal(v.Sequences)
	}
	return []byte("null"), nil
}

// CompletionResponse is the non-streaming response body.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionChunk is one SSE event of a streaming completion. The final
// chunk carries an empty text and a finish reason.
type CompletionChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

// ErrorBody wraps every error payload the API returns.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

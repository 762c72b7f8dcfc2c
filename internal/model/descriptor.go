// Package model loads the static description of a model directory:
// architecture geometry from config.json and generation defaults from
// generation_config.json. The descriptor is read-only and shared across
// generation calls.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ErrInvalidConfig wraps every load-time validation failure so callers can
// distinguish a broken model directory from IO problems.
var ErrInvalidConfig = errors.New("model: invalid config")

// Descriptor carries the geometry and token ids the engine needs. A field
// value of -1 means the model does not define that token.
type Descriptor struct {
	Arch       string
	Layers     int
	Heads      int
	KVHeads    int
	HeadDim    int
	HiddenSize int
	VocabSize  int

	BOS int
	EOS []int
	Pad int

	EncoderDecoder bool
	DecoderStart   int
	ForcedBOS      int

	Defaults GenerationDefaults
}

// GenerationDefaults seeds generation options when the caller does not
// override them. Nil means the model ships no default for that knob.
type GenerationDefaults struct {
	MaxNewTokens      *int
	Temperature       *float32
	TopK              *int
	TopP              *float32
	RepetitionPenalty *float32
	NoRepeatNgram     *int
}

// IsEOS reports whether id terminates generation for this model.
func (d *Descriptor) IsEOS(id int) bool {
	for _, eos := range d.EOS {
		if id == eos {
			return true
		}
	}
	return false
}

// configDoc accepts the common spellings across model families.
type configDoc struct {
	ModelType string `json:"model_type"`

	NumHiddenLayers *int `json:"num_hidden_layers"`
	NumLayers       *int `json:"num_layers"`
	NLayer          *int `json:"n_layer"`
	DecoderLayers   *int `json:"decoder_layers"`

	NumAttentionHeads *int `json:"num_attention_heads"`
	NHead             *int `json:"n_head"`
	NumHeads          *int `json:"num_heads"`

	NumKeyValueHeads *int `json:"num_key_value_heads"`

	HeadDim    *int `json:"head_dim"`
	HiddenSize *int `json:"hidden_size"`
	NEmbd      *int `json:"n_embd"`
	DModel     *int `json:"d_model"`

	VocabSize *int `json:"vocab_size"`

	BOSTokenID *int      `json:"bos_token_id"`
	EOSTokenID intOrList `json:"eos_token_id"`
	PadTokenID *int      `json:"pad_token_id"`

	IsEncoderDecoder    bool `json:"is_encoder_decoder"`
	DecoderStartTokenID *int `json:"decoder_start_token_id"`
	ForcedBOSTokenID    *int `json:"forced_bos_token_id"`
}

type generationDoc struct {
	MaxNewTokens      *int     `json:"max_new_tokens"`
	MaxLength         *int     `json:"max_length"`
	Temperature       *float32 `json:"temperature"`
	TopK              *int     `json:"top_k"`
	TopP              *float32 `json:"top_p"`
	RepetitionPenalty *float32 `json:"repetition_penalty"`
	NoRepeatNgramSize *int     `json:"no_repeat_ngram_size"`

	BOSTokenID          *int      `json:"bos_token_id"`
	EOSTokenID          intOrList `json:"eos_token_id"`
	PadTokenID          *int      `json:"pad_token_id"`
	DecoderStartTokenID *int      `json:"decoder_start_token_id"`
	ForcedBOSTokenID    *int      `json:"forced_bos_token_id"`
}

// intOrList accepts eos_token_id as a bare int or a list of ints.
type intOrList []int

func (v *intOrList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var single int
	if err := json.Unmarshal(data, &single); err == nil {
		*v = []int{single}
		return nil
	}
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("eos_token_id: %w", err)
	}
	*v = list
	return nil
}

// Load reads config.json (required) and generation_config.json (optional)
// from a model directory and validates the result.
func Load(dir string) (*Descriptor, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("read config.json: %w", err)
	}
	var gen []byte
	if g, err := os.ReadFile(filepath.Join(dir, "generation_config.json")); err == nil {
		gen = g
	}
	return Parse(raw, gen)
}

// Parse builds a descriptor from raw config.json and optional
// generation_config.json bytes.
func Parse(configJSON, generationJSON []byte) (*Descriptor, error) {
	var cfg configDoc
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}

	d := &Descriptor{
		Arch:           cfg.ModelType,
		Layers:         firstInt(cfg.NumHiddenLayers, cfg.NumLayers, cfg.NLayer, cfg.DecoderLayers),
		Heads:          firstInt(cfg.NumAttentionHeads, cfg.NHead, cfg.NumHeads),
		HiddenSize:     firstInt(cfg.HiddenSize, cfg.NEmbd, cfg.DModel),
		VocabSize:      firstInt(cfg.VocabSize),
		BOS:            firstInt(cfg.BOSTokenID),
		EOS:            cfg.EOSTokenID,
		Pad:            firstInt(cfg.PadTokenID),
		EncoderDecoder: cfg.IsEncoderDecoder,
		DecoderStart:   firstInt(cfg.DecoderStartTokenID),
		ForcedBOS:      firstInt(cfg.ForcedBOSTokenID),
	}
	d.KVHeads = firstInt(cfg.NumKeyValueHeads)
	if d.KVHeads <= 0 {
		d.KVHeads = d.Heads
	}
	d.HeadDim = firstInt(cfg.HeadDim)
	if d.HeadDim <= 0 && d.Heads > 0 && d.HiddenSize > 0 {
		d.HeadDim = d.HiddenSize / d.Heads
	}

	if len(generationJSON) > 0 {
		var gen generationDoc
		if err := json.Unmarshal(generationJSON, &gen); err != nil {
			return nil, fmt.Errorf("parse generation_config.json: %w", err)
		}
		d.Defaults = GenerationDefaults{
			MaxNewTokens:      firstIntPtr(gen.MaxNewTokens, gen.MaxLength),
			Temperature:       gen.Temperature,
			TopK:              gen.TopK,
			TopP:              gen.TopP,
			RepetitionPenalty: gen.RepetitionPenalty,
			NoRepeatNgram:     gen.NoRepeatNgramSize,
		}
		if gen.BOSTokenID != nil {
			d.BOS = *gen.BOSTokenID
		}
		if len(gen.EOSTokenID) > 0 {
			d.EOS = gen.EOSTokenID
		}
		if gen.PadTokenID != nil {
			d.Pad = *gen.PadTokenID
		}
		if gen.DecoderStartTokenID != nil {
			d.DecoderStart = *gen.DecoderStartTokenID
		}
		if gen.ForcedBOSTokenID != nil {
			d.ForcedBOS = *gen.ForcedBOSTokenID
		}
	}

	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Descriptor) validate() error {
	switch {
	case d.Layers <= 0:
		return fmt.Errorf("%w: missing layer count", ErrInvalidConfig)
	case d.Heads <= 0:
		return fmt.Errorf("%w: missing attention head count", ErrInvalidConfig)
	case d.HeadDim <= 0:
		return fmt.Errorf("%w: missing head_dim and no hidden_size to derive it", ErrInvalidConfig)
	case d.VocabSize <= 0:
		return fmt.Errorf("%w: missing vocab_size", ErrInvalidConfig)
	}
	if d.EncoderDecoder && d.DecoderStart < 0 {
		return fmt.Errorf("%w: encoder-decoder model without decoder_start_token_id", ErrInvalidConfig)
	}
	return nil
}

// firstInt returns the first non-nil value, or -1.
func firstInt(vs ...*int) int {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return -1
}

func firstIntPtr(vs ...*int) *int {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

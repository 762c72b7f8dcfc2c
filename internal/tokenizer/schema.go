package tokenizer

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// tokenizerDoc mirrors the HuggingFace tokenizer.json layout. Only the
// fields the pipeline consumes are declared.
type tokenizerDoc struct {
	Normalizer    *componentSpec   `json:"normalizer"`
	PreTokenizer  *componentSpec   `json:"pre_tokenizer"`
	Model         modelSpec        `json:"model"`
	PostProcessor *postProcessor   `json:"post_processor"`
	Decoder       *componentSpec   `json:"decoder"`
	AddedTokens   []addedTokenSpec `json:"added_tokens"`
}

// componentSpec is the tagged union used for normalizers, pre-tokenizers and
// decoders. Type selects the variant; the remaining fields are sparse.
type componentSpec struct {
	Type string `json:"type"`

	Normalizers   []componentSpec `json:"normalizers"`
	Pretokenizers []componentSpec `json:"pretokenizers"`
	Decoders      []componentSpec `json:"decoders"`

	Pattern        patternSpec `json:"pattern"`
	Content        string      `json:"content"`
	Behavior       string      `json:"behavior"`
	Invert         bool        `json:"invert"`
	AddPrefixSpace *bool       `json:"add_prefix_space"`
	UseRegex       *bool       `json:"use_regex"`
	TrimOffsets    *bool       `json:"trim_offsets"`
	Replacement    string      `json:"replacement"`
	PrependScheme  string      `json:"prepend_scheme"`
	Prepend        string      `json:"prepend"`
	Start          int         `json:"start"`
	Stop           int         `json:"stop"`
}

// patternSpec is either {"Regex": "..."} or {"String": "..."}.
type patternSpec struct {
	Regex  string `json:"Regex"`
	String string `json:"String"`
}

type modelSpec struct {
	Type         string         `json:"type"`
	Vocab        map[string]int `json:"vocab"`
	Merges       []mergeSpec    `json:"merges"`
	UnkToken     string         `json:"unk_token"`
	ByteFallback bool           `json:"byte_fallback"`
	FuseUnk      bool           `json:"fuse_unk"`
	IgnoreMerges bool           `json:"ignore_merges"`
}

// mergeSpec accepts both merge encodings found in the wild: the legacy
// "a b" string and the newer ["a", "b"] pair.
type mergeSpec struct {
	A, B string
	ok   bool
}

func (m *mergeSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parts := strings.Split(s, " ")
		if len(parts) == 2 {
			m.A, m.B, m.ok = parts[0], parts[1], true
		}
		return nil
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("merge entry: %w", err)
	}
	if len(pair) == 2 {
		m.A, m.B, m.ok = pair[0], pair[1], true
	}
	return nil
}

type addedTokenSpec struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
	LStrip  bool   `json:"lstrip"`
	RStrip  bool   `json:"rstrip"`
}

// postProcessor only matters for whether BOS/EOS are attached to a single
// sequence; pair templates are ignored.
type postProcessor struct {
	Type          string              `json:"type"`
	Single        []templateItem      `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []postProcessor `json:"processors"`
}

type templateItem struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

// configDoc mirrors tokenizer_config.json.
type configDoc struct {
	AddBOS   *bool       `json:"add_bos_token"`
	AddEOS   *bool       `json:"add_eos_token"`
	BOSToken configToken `json:"bos_token"`
	EOSToken configToken `json:"eos_token"`
	PadToken configToken `json:"pad_token"`
	UnkToken configToken `json:"unk_token"`
}

// configToken is either a bare string or an added-token object with a
// "content" field.
type configToken struct {
	Content string
}

func (t *configToken) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Content = s
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("token entry: %w", err)
	}
	t.Content = obj.Content
	return nil
}

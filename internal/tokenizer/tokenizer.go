// Package tokenizer implements the byte-level BPE pipeline: normalizer,
// pre-tokenizer, BPE model and decoder, loaded from a HuggingFace-style
// tokenizer.json document.
package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// AddedToken is a token injected outside the BPE model, matched verbatim
// before pre-tokenization.
type AddedToken struct {
	ID      int
	Content string
	Special bool
}

// Tokenizer is the full encode/decode pipeline. It is read-only after
// construction apart from the internal merge cache, and is shared across
// generation calls.
type Tokenizer struct {
	norm  Normalizer
	pre   PreTokenizer
	model *BPE
	dec   Decoder

	tokens  []string
	added   map[int]AddedToken
	matcher []AddedToken

	addBOS bool
	addEOS bool
	bosID  int
	eosID  int
	padID  int
}

// Load reads tokenizer.json, plus tokenizer_config.json when present, from
// a model directory.
func Load(dir string) (*Tokenizer, error) {
	doc, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}
	var cfg []byte
	if raw, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json")); err == nil {
		cfg = raw
	}
	return Parse(doc, cfg)
}

// Parse builds the pipeline from raw tokenizer.json and optional
// tokenizer_config.json bytes.
func Parse(docJSON, cfgJSON []byte) (*Tokenizer, error) {
	var doc tokenizerDoc
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(doc.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", doc.Model.Type)
	}

	norm, err := newNormalizer(doc.Normalizer)
	if err != nil {
		return nil, err
	}
	pre, err := newPreTokenizer(doc.PreTokenizer)
	if err != nil {
		return nil, err
	}
	model, err := newBPE(doc.Model)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(doc.Decoder)
	if err != nil {
		return nil, err
	}

	t := &Tokenizer{
		norm:  norm,
		pre:   pre,
		model: model,
		dec:   dec,
		added: make(map[int]AddedToken, len(doc.AddedTokens)),
		bosID: -1,
		eosID: -1,
		padID: -1,
	}

	maxID := -1
	for _, id := range doc.Model.Vocab {
		if id > maxID {
			maxID = id
		}
	}
	for _, at := range doc.AddedTokens {
		if at.ID > maxID {
			maxID = at.ID
		}
	}
	t.tokens = make([]string, maxID+1)
	for tok, id := range doc.Model.Vocab {
		t.tokens[id] = tok
	}
	for _, at := range doc.AddedTokens {
		t.tokens[at.ID] = at.Content
		tok := AddedToken{ID: at.ID, Content: at.Content, Special: at.Special}
		t.added[at.ID] = tok
		t.matcher = append(t.matcher, tok)
	}
	// Longest content first so overlapping added tokens match greedily.
	sort.SliceStable(t.matcher, func(a, b int) bool {
		return len(t.matcher[a].Content) > len(t.matcher[b].Content)
	})

	var cfg configDoc
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	t.resolveSpecials(doc, cfg)
	return t, nil
}

// resolveSpecials settles BOS/EOS/pad ids and whether encode attaches them,
// combining tokenizer_config.json with the post-processor template.
func (t *Tokenizer) resolveSpecials(doc tokenizerDoc, cfg configDoc) {
	lookup := func(content string) int {
		if content == "" {
			return -1
		}
		for id, tok := range t.tokens {
			if tok == content {
				return id
			}
		}
		return -1
	}
	t.bosID = lookup(cfg.BOSToken.Content)
	t.eosID = lookup(cfg.EOSToken.Content)
	t.padID = lookup(cfg.PadToken.Content)
	if cfg.AddBOS != nil {
		t.addBOS = *cfg.AddBOS
	}
	if cfg.AddEOS != nil {
		t.addEOS = *cfg.AddEOS
	}

	procs := []*postProcessor{doc.PostProcessor}
	if doc.PostProcessor != nil {
		for i := range doc.PostProcessor.Processors {
			procs = append(procs, &doc.PostProcessor.Processors[i])
		}
	}
	for _, pp := range procs {
		if pp == nil || pp.Type != "TemplateProcessing" {
			continue
		}
		seenSequence := false
		for _, item := range pp.Single {
			switch {
			case item.Sequence != nil:
				seenSequence = true
			case item.SpecialToken != nil:
				spec, ok := pp.SpecialTokens[item.SpecialToken.ID]
				if !ok || len(spec.IDs) == 0 {
					continue
				}
				if seenSequence {
					t.addEOS = true
					t.eosID = spec.IDs[0]
				} else {
					t.addBOS = true
					t.bosID = spec.IDs[0]
				}
			}
		}
	}
}

// Encode turns text into token ids. Empty input yields an empty sequence;
// otherwise BOS/EOS are attached when the configuration asks for them.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	if text == "" {
		return []int{}, nil
	}
	ids := []int{}
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range t.splitAdded(text) {
		if part.added != nil {
			ids = append(ids, part.added.ID)
			continue
		}
		segment := part.text
		if t.norm != nil {
			segment = t.norm.Normalize(segment)
		}
		pieces := []string{segment}
		if t.pre != nil {
			pieces = t.pre.Split(segment)
		}
		for _, piece := range pieces {
			pieceIDs, err := t.model.Tokenize(piece)
			if err != nil {
				return nil, err
			}
			ids = append(ids, pieceIDs...)
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

// Decode turns token ids back into text. It is a pure function of the id
// sequence: no state survives between calls. Special added tokens are
// emitted verbatim, bypassing the decoder.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	var run []string
	flush := func() {
		if len(run) > 0 {
			b.WriteString(t.dec.DecodeTokens(run))
			run = run[:0]
		}
	}
	for _, id := range ids {
		if id < 0 || id >= len(t.tokens) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if at, ok := t.added[id]; ok {
			flush()
			b.WriteString(at.Content)
			continue
		}
		run = append(run, t.tokens[id])
	}
	flush()
	return b.String(), nil
}

// TokenString returns the raw vocabulary string for a token id.
func (t *Tokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.tokens) {
		return ""
	}
	return t.tokens[id]
}

// VocabSize returns the id-space size including added tokens.
func (t *Tokenizer) VocabSize() int { return len(t.tokens) }

func (t *Tokenizer) BOSID() int { return t.bosID }
func (t *Tokenizer) EOSID() int { return t.eosID }
func (t *Tokenizer) PadID() int { return t.padID }

// IsSpecial reports whether an id belongs to a special added token.
func (t *Tokenizer) IsSpecial(id int) bool {
	at, ok := t.added[id]
	return ok && at.Special
}

type textPart struct {
	text  string
	added *AddedToken
}

// splitAdded carves added tokens out of the text before normalization so
// their content is never altered or merged. Longer tokens win overlaps.
func (t *Tokenizer) splitAdded(text string) []textPart {
	if len(t.matcher) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	var buf strings.Builder
	for i := 0; i < len(text); {
		var match *AddedToken
		for j := range t.matcher {
			at := &t.matcher[j]
			if at.Content == "" || i+len(at.Content) > len(text) {
				continue
			}
			if text[i:i+len(at.Content)] == at.Content {
				match = at
				break
			}
		}
		if match != nil {
			if buf.Len() > 0 {
				parts = append(parts, textPart{text: buf.String()})
				buf.Reset()
			}
			parts = append(parts, textPart{added: match})
			i += len(match.Content)
			continue
		}
		buf.WriteByte(text[i])
		i++
	}
	if buf.Len() > 0 {
		parts = append(parts, textPart{text: buf.String()})
	}
	return parts
}

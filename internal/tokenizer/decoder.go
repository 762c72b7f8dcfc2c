package tokenizer

import (
	"fmt"
	"strconv"
	"strings"
)

// Decoder turns a run of vocabulary token strings back into text. The
// byte-level decoder is context sensitive across tokens: split multi-byte
// characters only become valid UTF-8 once the whole run is joined.
type Decoder interface {
	DecodeTokens(tokens []string) string
}

// concatDecoder joins tokens verbatim, the fallback when tokenizer.json
// declares no decoder.
type concatDecoder struct{}

func (concatDecoder) DecodeTokens(tokens []string) string {
	return strings.Join(tokens, "")
}

// byteLevelDecoder reverses the byte-to-rune mapping of the byte-level
// pre-tokenizer.
type byteLevelDecoder struct{}

func (byteLevelDecoder) DecodeTokens(tokens []string) string {
	var b []byte
	for _, tok := range tokens {
		for _, r := range tok {
			if by, ok := byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b)
}

// metaspaceDecoder maps the sentencepiece space marker back to spaces and
// strips the leading one that pre-tokenization prepended.
type metaspaceDecoder struct {
	replacement string
	stripFirst  bool
}

func newMetaspaceDecoder(spec *componentSpec) *metaspaceDecoder {
	rep := spec.Replacement
	if rep == "" {
		rep = "▁"
	}
	prepend := spec.PrependScheme != "never"
	if spec.AddPrefixSpace != nil {
		prepend = *spec.AddPrefixSpace
	}
	return &metaspaceDecoder{replacement: rep, stripFirst: prepend}
}

func (d *metaspaceDecoder) DecodeTokens(tokens []string) string {
	text := strings.ReplaceAll(strings.Join(tokens, ""), d.replacement, " ")
	if d.stripFirst {
		text = strings.TrimPrefix(text, " ")
	}
	return text
}

// byteFallbackDecoder folds <0xNN> byte tokens back into raw bytes.
type byteFallbackDecoder struct{}

func (byteFallbackDecoder) DecodeTokens(tokens []string) string {
	var b []byte
	for _, tok := range tokens {
		if by, ok := parseByteToken(tok); ok {
			b = append(b, by)
			continue
		}
		b = append(b, tok...)
	}
	return string(b)
}

func parseByteToken(tok string) (byte, bool) {
	if len(tok) != 6 || !strings.HasPrefix(tok, "<0x") || !strings.HasSuffix(tok, ">") {
		return 0, false
	}
	v, err := strconv.ParseUint(tok[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// replaceDecoder substitutes a literal pattern in the joined text.
type replaceDecoder struct {
	pattern string
	content string
}

func (d replaceDecoder) DecodeTokens(tokens []string) string {
	return strings.ReplaceAll(strings.Join(tokens, ""), d.pattern, d.content)
}

// stripDecoder removes up to Start copies of a character from the front of
// the joined text and Stop copies from the back.
type stripDecoder struct {
	content     string
	start, stop int
}

func (d stripDecoder) DecodeTokens(tokens []string) string {
	text := strings.Join(tokens, "")
	for i := 0; i < d.start && strings.HasPrefix(text, d.content); i++ {
		text = text[len(d.content):]
	}
	for i := 0; i < d.stop && strings.HasSuffix(text, d.content); i++ {
		text = text[:len(text)-len(d.content)]
	}
	return text
}

// sequenceDecoder chains decoders, re-splitting between stages so each
// stage sees per-token granularity where it matters.
type sequenceDecoder []Decoder

func (s sequenceDecoder) DecodeTokens(tokens []string) string {
	work := tokens
	for i, d := range s {
		if i == len(s)-1 {
			return d.DecodeTokens(work)
		}
		next := make([]string, len(work))
		for j, tok := range work {
			next[j] = d.DecodeTokens([]string{tok})
		}
		work = next
	}
	return strings.Join(work, "")
}

func newDecoder(spec *componentSpec) (Decoder, error) {
	if spec == nil {
		return concatDecoder{}, nil
	}
	switch spec.Type {
	case "ByteLevel":
		return byteLevelDecoder{}, nil
	case "Metaspace":
		return newMetaspaceDecoder(spec), nil
	case "ByteFallback":
		return byteFallbackDecoder{}, nil
	case "Replace":
		pat := spec.Pattern.String
		if pat == "" {
			pat = spec.Pattern.Regex
		}
		return replaceDecoder{pattern: pat, content: spec.Content}, nil
	case "Strip":
		return stripDecoder{content: spec.Content, start: spec.Start, stop: spec.Stop}, nil
	case "Fuse":
		return concatDecoder{}, nil
	case "Sequence":
		seq := make(sequenceDecoder, 0, len(spec.Decoders))
		for i := range spec.Decoders {
			d, err := newDecoder(&spec.Decoders[i])
			if err != nil {
				return nil, err
			}
			seq = append(seq, d)
		}
		if len(seq) == 0 {
			return concatDecoder{}, nil
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported decoder: %s", spec.Type)
	}
}

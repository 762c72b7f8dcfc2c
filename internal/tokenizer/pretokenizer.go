package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// PreTokenizer splits normalized text into the pieces the BPE model merges
// within. Merges never cross piece boundaries.
type PreTokenizer interface {
	Split(text string) []string
}

// gpt2Pattern is the classic byte-level split regex, used when a ByteLevel
// pre-tokenizer asks for regex splitting without providing its own pattern.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// byteLevelPre maps every byte of each piece to a printable stand-in rune so
// the BPE vocabulary never has to contain raw bytes.
type byteLevelPre struct {
	addPrefixSpace bool
	re             *regexp2.Regexp
}

func newByteLevelPre(spec *componentSpec) (*byteLevelPre, error) {
	p := &byteLevelPre{addPrefixSpace: true}
	if spec.AddPrefixSpace != nil {
		p.addPrefixSpace = *spec.AddPrefixSpace
	}
	useRegex := true
	if spec.UseRegex != nil {
		useRegex = *spec.UseRegex
	}
	if useRegex {
		re, err := regexp2.Compile(gpt2Pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("byte-level pattern: %w", err)
		}
		p.re = re
	}
	return p, nil
}

func (p *byteLevelPre) Split(text string) []string {
	if text == "" {
		return nil
	}
	if p.addPrefixSpace && !strings.HasPrefix(text, " ") {
		text = " " + text
	}
	pieces := []string{text}
	if p.re != nil {
		pieces = matchAll(p.re, text, false)
	}
	out := make([]string, len(pieces))
	for i, piece := range pieces {
		out[i] = byteEncode(piece)
	}
	return out
}

// whitespacePre is the HF Whitespace splitter: words and punctuation runs,
// whitespace removed.
type whitespacePre struct {
	re *regexp2.Regexp
}

func newWhitespacePre() (*whitespacePre, error) {
	re, err := regexp2.Compile(`\w+|[^\w\s]+`, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &whitespacePre{re: re}, nil
}

func (p *whitespacePre) Split(text string) []string {
	return matchAll(p.re, text, false)
}

// splitPre runs an arbitrary pattern. Behavior "Removed" drops the matched
// delimiters; "Isolated" keeps them as their own pieces. With invert set the
// matches themselves are the pieces.
type splitPre struct {
	re       *regexp2.Regexp
	behavior string
	invert   bool
}

func newSplitPre(spec *componentSpec) (*splitPre, error) {
	pat := spec.Pattern.Regex
	if pat == "" {
		pat = regexp2.Escape(spec.Pattern.String)
	}
	re, err := regexp2.Compile(pat, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("split pattern: %w", err)
	}
	return &splitPre{re: re, behavior: spec.Behavior, invert: spec.Invert}, nil
}

func (p *splitPre) Split(text string) []string {
	if p.invert {
		return matchAll(p.re, text, false)
	}
	switch p.behavior {
	case "Isolated", "":
		return matchAll(p.re, text, true)
	default: // Removed
		return splitAround(p.re, text)
	}
}

// metaspacePre replaces spaces with the metaspace marker and optionally
// prepends one, sentencepiece style.
type metaspacePre struct {
	replacement string
	prepend     bool
}

func newMetaspacePre(spec *componentSpec) *metaspacePre {
	rep := spec.Replacement
	if rep == "" {
		rep = "▁"
	}
	prepend := spec.PrependScheme != "never"
	return &metaspacePre{replacement: rep, prepend: prepend}
}

func (p *metaspacePre) Split(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, " ", p.replacement)
	if p.prepend && !strings.HasPrefix(text, p.replacement) {
		text = p.replacement + text
	}
	segs := strings.Split(text, p.replacement)
	out := make([]string, 0, len(segs))
	if segs[0] != "" {
		out = append(out, segs[0])
	}
	for _, s := range segs[1:] {
		out = append(out, p.replacement+s)
	}
	if len(out) == 0 {
		out = append(out, text)
	}
	return out
}

type sequencePre []PreTokenizer

func (s sequencePre) Split(text string) []string {
	pieces := []string{text}
	for _, p := range s {
		var next []string
		for _, piece := range pieces {
			next = append(next, p.Split(piece)...)
		}
		pieces = next
	}
	return pieces
}

func newPreTokenizer(spec *componentSpec) (PreTokenizer, error) {
	if spec == nil {
		return nil, nil
	}
	switch spec.Type {
	case "ByteLevel":
		return newByteLevelPre(spec)
	case "Whitespace", "WhitespaceSplit":
		return newWhitespacePre()
	case "Split":
		return newSplitPre(spec)
	case "Metaspace":
		return newMetaspacePre(spec), nil
	case "Sequence":
		seq := make(sequencePre, 0, len(spec.Pretokenizers))
		for i := range spec.Pretokenizers {
			p, err := newPreTokenizer(&spec.Pretokenizers[i])
			if err != nil {
				return nil, err
			}
			if p != nil {
				seq = append(seq, p)
			}
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported pre-tokenizer: %s", spec.Type)
	}
}

// matchAll returns every regex match in order. With gaps set, unmatched
// stretches between matches are kept as pieces of their own.
func matchAll(re *regexp2.Regexp, text string, gaps bool) []string {
	runes := []rune(text)
	var out []string
	last := 0
	m, err := re.FindStringMatch(text)
	for err == nil && m != nil {
		if gaps && m.Index > last {
			out = append(out, string(runes[last:m.Index]))
		}
		if m.Length > 0 {
			out = append(out, m.String())
		}
		last = m.Index + m.Length
		m, err = re.FindNextMatch(m)
	}
	if gaps && last < len(runes) {
		out = append(out, string(runes[last:]))
	}
	return out
}

// splitAround returns the stretches between matches, dropping the matches.
func splitAround(re *regexp2.Regexp, text string) []string {
	runes := []rune(text)
	var out []string
	last := 0
	m, err := re.FindStringMatch(text)
	for err == nil && m != nil {
		if m.Index > last {
			out = append(out, string(runes[last:m.Index]))
		}
		last = m.Index + m.Length
		if m.Length == 0 {
			break
		}
		m, err = re.FindNextMatch(m)
	}
	if last < len(runes) {
		out = append(out, string(runes[last:]))
	}
	return out
}

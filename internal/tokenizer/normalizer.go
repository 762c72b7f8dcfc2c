package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

// Normalizer rewrites raw text before pre-tokenization.
type Normalizer interface {
	Normalize(text string) string
}

type unicodeNormalizer struct {
	form norm.Form
}

func (n unicodeNormalizer) Normalize(text string) string { return n.form.String(text) }

type lowercaseNormalizer struct{}

func (lowercaseNormalizer) Normalize(text string) string { return strings.ToLower(text) }

type stripNormalizer struct {
	left, right bool
}

func (n stripNormalizer) Normalize(text string) string {
	switch {
	case n.left && n.right:
		return strings.TrimSpace(text)
	case n.left:
		return strings.TrimLeft(text, " \t\n\r")
	case n.right:
		return strings.TrimRight(text, " \t\n\r")
	}
	return text
}

type prependNormalizer struct {
	prefix string
}

func (n prependNormalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	return n.prefix + text
}

// replaceNormalizer substitutes a literal string or a regex pattern with
// fixed content. Sentencepiece-derived tokenizers use it to map spaces to
// the metaspace marker.
type replaceNormalizer struct {
	literal string
	re      *regexp2.Regexp
	content string
}

func (n replaceNormalizer) Normalize(text string) string {
	if n.re != nil {
		out, err := n.re.Replace(text, n.content, -1, -1)
		if err != nil {
			return text
		}
		return out
	}
	return strings.ReplaceAll(text, n.literal, n.content)
}

type sequenceNormalizer []Normalizer

func (s sequenceNormalizer) Normalize(text string) string {
	for _, n := range s {
		text = n.Normalize(text)
	}
	return text
}

func newNormalizer(spec *componentSpec) (Normalizer, error) {
	if spec == nil {
		return nil, nil
	}
	switch spec.Type {
	case "NFC":
		return unicodeNormalizer{norm.NFC}, nil
	case "NFD":
		return unicodeNormalizer{norm.NFD}, nil
	case "NFKC":
		return unicodeNormalizer{norm.NFKC}, nil
	case "NFKD":
		return unicodeNormalizer{norm.NFKD}, nil
	case "Lowercase":
		return lowercaseNormalizer{}, nil
	case "Strip":
		return stripNormalizer{left: true, right: true}, nil
	case "Prepend":
		return prependNormalizer{prefix: spec.Prepend}, nil
	case "Replace":
		r := replaceNormalizer{content: spec.Content}
		if spec.Pattern.Regex != "" {
			re, err := regexp2.Compile(spec.Pattern.Regex, regexp2.None)
			if err != nil {
				return nil, fmt.Errorf("normalizer Replace pattern: %w", err)
			}
			r.re = re
		} else {
			r.literal = spec.Pattern.String
		}
		return r, nil
	case "Sequence":
		seq := make(sequenceNormalizer, 0, len(spec.Normalizers))
		for i := range spec.Normalizers {
			n, err := newNormalizer(&spec.Normalizers[i])
			if err != nil {
				return nil, err
			}
			if n != nil {
				seq = append(seq, n)
			}
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported normalizer: %s", spec.Type)
	}
}

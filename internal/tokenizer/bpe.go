package tokenizer

import (
	"fmt"
	"strings"
)

// Pair represents a pair of BPE tokens.
type Pair struct {
	A string
	B string
}

// BPE is the byte-pair-encoding model: a vocabulary plus ranked merges.
// Tokenize operates on one pre-tokenized piece at a time; merges never cross
// piece boundaries.
type BPE struct {
	vocab        map[string]int
	ranks        map[Pair]int
	cache        map[string][]string
	unkID        int
	byteFallback bool
	ignoreMerges bool
}

func newBPE(spec modelSpec) (*BPE, error) {
	if len(spec.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocab")
	}
	ranks := make(map[Pair]int, len(spec.Merges))
	rank := 0
	for _, m := range spec.Merges {
		if !m.ok {
			continue
		}
		p := Pair{A: m.A, B: m.B}
		if _, dup := ranks[p]; !dup {
			ranks[p] = rank
			rank++
		}
	}
	unkID := -1
	if spec.UnkToken != "" {
		if id, ok := spec.Vocab[spec.UnkToken]; ok {
			unkID = id
		}
	}
	return &BPE{
		vocab:        spec.Vocab,
		ranks:        ranks,
		cache:        make(map[string][]string),
		unkID:        unkID,
		byteFallback: spec.ByteFallback,
		ignoreMerges: spec.IgnoreMerges,
	}, nil
}

// Tokenize merges one piece into vocabulary ids. Unknown sub-tokens fall
// back to per-byte <0xNN> tokens when the vocab carries them, then to the
// unk token, and error out otherwise.
func (m *BPE) Tokenize(piece string) ([]int, error) {
	var ids []int
	for _, tok := range m.merge(piece) {
		id, ok := m.vocab[tok]
		if ok {
			ids = append(ids, id)
			continue
		}
		if m.byteFallback {
			byteIDs, ok := m.fallbackBytes(tok)
			if ok {
				ids = append(ids, byteIDs...)
				continue
			}
		}
		if m.unkID >= 0 {
			ids = append(ids, m.unkID)
			continue
		}
		return nil, fmt.Errorf("unknown token: %q", tok)
	}
	return ids, nil
}

func (m *BPE) fallbackBytes(tok string) ([]int, bool) {
	ids := make([]int, 0, len(tok))
	for _, b := range []byte(tok) {
		id, ok := m.vocab[fmt.Sprintf("<0x%02X>", b)]
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// merge applies the lowest-rank merge repeatedly until no ranked pair
// remains. Results are cached per piece.
func (m *BPE) merge(piece string) []string {
	if v, ok := m.cache[piece]; ok {
		return v
	}
	if m.ignoreMerges {
		if _, ok := m.vocab[piece]; ok {
			out := []string{piece}
			m.cache[piece] = out
			return out
		}
	}
	word := splitRunes(piece)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := m.ranks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	m.cache[piece] = word
	return word
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[Pair]struct{} {
	pairs := make(map[Pair]struct{})
	if len(word) < 2 {
		return pairs
	}
	prev := word[0]
	for _, w := range word[1:] {
		pairs[Pair{A: prev, B: w}] = struct{}{}
		prev = w
	}
	return pairs
}

func mergePair(word []string, pair Pair) []string {
	var out []string
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

var byteEncoder map[byte]string
var byteDecoder map[rune]byte

func init() {
	byteEncoder, byteDecoder = bytesToUnicode()
}

func byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(byteEncoder[by])
	}
	return b.String()
}

// bytesToUnicode maps bytes to printable runes to make byte-level BPE
// reversible: printable latin bytes map to themselves, the rest to runes
// from 256 upward.
func bytesToUnicode() (map[byte]string, map[rune]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := make([]int, len(bs))
	copy(cs, bs)
	n := 0
	for b := 0; b < 256; b++ {
		found := false
		for _, v := range bs {
			if v == b {
				found = true
				break
			}
		}
		if !found {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	enc := make(map[byte]string, len(bs))
	dec := make(map[rune]byte, len(bs))
	for i := 0; i < len(bs); i++ {
		b := byte(bs[i])
		r := rune(cs[i])
		enc[b] = string(r)
		dec[r] = b
	}
	return enc, dec
}

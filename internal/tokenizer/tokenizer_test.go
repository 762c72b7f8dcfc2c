package tokenizer

import (
	"reflect"
	"testing"
)

// byteLevelDoc is a small GPT2-style tokenizer: byte-level pre-tokenizer
// and decoder, a character vocab with a few merges, and two added tokens.
const byteLevelDoc = `{
	"normalizer": null,
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false, "use_regex": true},
	"decoder": {"type": "ByteLevel"},
	"model": {
		"type": "BPE",
		"vocab": {
			"h": 0, "e": 1, "l": 2, "o": 3, "w": 4, "r": 5, "d": 6,
			"Ġ": 7, "he": 8, "ll": 9, "hell": 10, "hello": 11,
			"Ġw": 12, "Ġworld": 13, "<unk>": 14,
			"Ã©": 15
		},
		"merges": ["h e", "l l", "he ll", "hell o", "Ġ w", ["Ġw", "orld"], "o r", "or l", "orl d"],
		"unk_token": "<unk>"
	},
	"added_tokens": [
		{"id": 16, "content": "<|endoftext|>", "special": true},
		{"id": 17, "content": "<|end|>", "special": true}
	]
}`

func mustParse(t *testing.T, doc, cfg string) *Tokenizer {
	t.Helper()
	var cfgBytes []byte
	if cfg != "" {
		cfgBytes = []byte(cfg)
	}
	tok, err := Parse([]byte(doc), cfgBytes)
	if err != nil {
		t.Fatalf("parse tokenizer: %v", err)
	}
	return tok
}

func TestEncodeEmpty(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	ids, err := tok.Encode("")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("encode(\"\") = %v, want empty", ids)
	}
}

func TestEncodeByteLevelMerges(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	ids, err := tok.Encode("hello world")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{11, 13}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	for _, text := range []string{"hello", "hello world", "hell he"} {
		ids, err := tok.Encode(text)
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		got, err := tok.Decode(ids)
		if err != nil {
			t.Fatalf("decode %q: %v", text, err)
		}
		if got != text {
			t.Fatalf("round trip %q -> %v -> %q", text, ids, got)
		}
	}
}

// TestDecodeMultiByteAcrossTokens checks the byte-level decoder reassembles
// a multi-byte character whose bytes live in one vocab token.
func TestDecodeMultiByteAcrossTokens(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	// Token 15 is the byte-level encoding of U+00E9.
	got, err := tok.Decode([]int{0, 15})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "hé" {
		t.Fatalf("decode = %q, want %q", got, "hé")
	}
}

func TestDecodeIsConcatenative(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	a := []int{11}
	b := []int{13}
	da, err := tok.Decode(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := tok.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	dab, err := tok.Decode(append(append([]int{}, a...), b...))
	if err != nil {
		t.Fatal(err)
	}
	if dab != da+db {
		t.Fatalf("decode(a+b) = %q, decode(a)+decode(b) = %q", dab, da+db)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	if _, err := tok.Decode([]int{99}); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := tok.Decode([]int{-1}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestUnknownFallsBackToUnk(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	ids, err := tok.Encode("z")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{14}) {
		t.Fatalf("encode(z) = %v, want unk id 14", ids)
	}
}

func TestAddedTokensSplitLongestFirst(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	ids, err := tok.Encode("hello<|endoftext|>hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{11, 16, 11}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
	if !tok.IsSpecial(16) {
		t.Fatal("expected id 16 to be special")
	}
	if tok.IsSpecial(11) {
		t.Fatal("id 11 wrongly special")
	}
}

func TestSpecialTokensDecodeVerbatim(t *testing.T) {
	tok := mustParse(t, byteLevelDoc, "")
	got, err := tok.Decode([]int{16, 11})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "<|endoftext|>hello" {
		t.Fatalf("decode = %q", got)
	}
}

func TestConfigBOSEOS(t *testing.T) {
	cfg := `{
		"add_bos_token": true,
		"add_eos_token": true,
		"bos_token": "<|endoftext|>",
		"eos_token": {"content": "<|end|>"}
	}`
	tok := mustParse(t, byteLevelDoc, cfg)
	if tok.BOSID() != 16 || tok.EOSID() != 17 {
		t.Fatalf("bos/eos = %d/%d, want 16/17", tok.BOSID(), tok.EOSID())
	}
	ids, err := tok.Encode("hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{16, 11, 17}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
	// Empty input stays empty even with BOS/EOS configured.
	ids, err = tok.Encode("")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("encode(\"\") = %v, want empty", ids)
	}
}

func TestTemplateProcessingOverride(t *testing.T) {
	doc := `{
		"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
		"decoder": {"type": "ByteLevel"},
		"model": {"type": "BPE", "vocab": {"h": 0, "i": 1}, "merges": []},
		"added_tokens": [{"id": 2, "content": "<s>", "special": true}],
		"post_processor": {
			"type": "TemplateProcessing",
			"single": [
				{"SpecialToken": {"id": "<s>"}},
				{"Sequence": {"id": "A"}}
			],
			"special_tokens": {"<s>": {"ids": [2]}}
		}
	}`
	tok := mustParse(t, doc, "")
	ids, err := tok.Encode("hi")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{2, 0, 1}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
}

// metaspaceDoc is a sentencepiece-flavoured tokenizer: lowercasing
// normalizer, metaspace pre-tokenizer, byte fallback for out-of-vocab
// characters and a sequence decoder.
const metaspaceDoc = `{
	"normalizer": {"type": "Sequence", "normalizers": [
		{"type": "NFC"},
		{"type": "Lowercase"}
	]},
	"pre_tokenizer": {"type": "Metaspace", "replacement": "▁", "prepend_scheme": "always"},
	"decoder": {"type": "Sequence", "decoders": [
		{"type": "ByteFallback"},
		{"type": "Replace", "pattern": {"String": "▁"}, "content": " "},
		{"type": "Strip", "content": " ", "start": 1, "stop": 0}
	]},
	"model": {
		"type": "BPE",
		"vocab": {
			"▁": 0, "▁hi": 1, "▁yo": 2,
			"h": 3, "i": 4, "y": 5, "o": 6,
			"<0x21>": 7
		},
		"merges": ["▁ hi", "h i", "▁ yo", "y o"],
		"byte_fallback": true
	}
}`

func TestMetaspaceEncode(t *testing.T) {
	tok := mustParse(t, metaspaceDoc, "")
	ids, err := tok.Encode("Hi yo")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{1, 2}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
	got, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "hi yo" {
		t.Fatalf("decode = %q, want %q", got, "hi yo")
	}
}

func TestByteFallback(t *testing.T) {
	tok := mustParse(t, metaspaceDoc, "")
	ids, err := tok.Encode("hi!")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// "!" has no vocab entry and no merges; it falls back to <0x21>.
	want := []int{1, 7}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
	got, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "hi!" {
		t.Fatalf("decode = %q, want %q", got, "hi!")
	}
}

func TestRejectsNonBPEModel(t *testing.T) {
	doc := `{"model": {"type": "WordPiece", "vocab": {}, "merges": []}}`
	if _, err := Parse([]byte(doc), nil); err == nil {
		t.Fatal("expected unsupported model error")
	}
}

func TestWhitespacePreTokenizer(t *testing.T) {
	doc := `{
		"pre_tokenizer": {"type": "Whitespace"},
		"model": {"type": "BPE", "vocab": {"hi": 0, "yo": 1, "!": 2}, "merges": ["h i", "y o"]}
	}`
	tok := mustParse(t, doc, "")
	ids, err := tok.Encode("hi yo!")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{0, 1, 2}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("encode = %v, want %v", ids, want)
	}
}

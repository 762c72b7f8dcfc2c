package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// Standard tensor names shared with ONNX-exported transformer graphs.
const (
	InputIDs             = "input_ids"
	AttentionMask        = "attention_mask"
	PositionIDs          = "position_ids"
	Logits               = "logits"
	EncoderHiddenStates  = "encoder_hidden_states"
	EncoderAttentionMask = "encoder_attention_mask"
	LastHiddenState      = "last_hidden_state"
)

// KVSlot identifies one cached tensor: the layer index, whether it belongs
// to the self- or cross-attention cache, and whether it is a key or value.
type KVSlot struct {
	Layer int
	Cross bool
	Key   bool
}

// PastName returns the input name for a cache slot. Decoder-only models use
// "past_key_values.{i}.{key,value}"; encoder-decoder models qualify the slot
// with "decoder" or "encoder".
func PastName(s KVSlot, encDec bool) string {
	return "past_key_values." + slotSuffix(s, encDec)
}

// PresentName returns the output name for a cache slot.
func PresentName(s KVSlot, encDec bool) string {
	return "present." + slotSuffix(s, encDec)
}

func slotSuffix(s KVSlot, encDec bool) string {
	kind := "value"
	if s.Key {
		kind = "key"
	}
	if !encDec {
		return fmt.Sprintf("%d.%s", s.Layer, kind)
	}
	side := "decoder"
	if s.Cross {
		side = "encoder"
	}
	return fmt.Sprintf("%d.%s.%s", s.Layer, side, kind)
}

// ParsePresent decodes an output name produced by a decoder pass. Both the
// decoder-only form "present.{i}.{key,value}" and the encoder-decoder forms
// "present.{i}.{decoder,encoder}.{key,value}" are recognised.
func ParsePresent(name string) (KVSlot, bool) {
	rest, ok := strings.CutPrefix(name, "present.")
	if !ok {
		return KVSlot{}, false
	}
	parts := strings.Split(rest, ".")
	var slot KVSlot
	switch len(parts) {
	case 2:
		// present.{i}.{key,value}
	case 3:
		switch parts[1] {
		case "decoder":
		case "encoder":
			slot.Cross = true
		default:
			return KVSlot{}, false
		}
		parts = []string{parts[0], parts[2]}
	default:
		return KVSlot{}, false
	}
	layer, err := strconv.Atoi(parts[0])
	if err != nil || layer < 0 {
		return KVSlot{}, false
	}
	slot.Layer = layer
	switch parts[1] {
	case "key":
		slot.Key = true
	case "value":
	default:
		return KVSlot{}, false
	}
	return slot, true
}

// IsPast reports whether an input name refers to the key/value cache.
func IsPast(name string) bool {
	return strings.HasPrefix(name, "past_key_values.")
}

// HasInput reports whether the model declares the named input.
func HasInput(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// WantsPast reports whether the model declares any key/value cache input.
func WantsPast(names []string) bool {
	for _, n := range names {
		if IsPast(n) {
			return true
		}
	}
	return false
}

package executor

import "testing"

func TestSlotNames(t *testing.T) {
	tests := []struct {
		slot       KVSlot
		encDec     bool
		past, pres string
	}{
		{KVSlot{Layer: 0, Key: true}, false, "past_key_values.0.key", "present.0.key"},
		{KVSlot{Layer: 3}, false, "past_key_values.3.value", "present.3.value"},
		{KVSlot{Layer: 1, Key: true}, true, "past_key_values.1.decoder.key", "present.1.decoder.key"},
		{KVSlot{Layer: 2, Cross: true}, true, "past_key_values.2.encoder.value", "present.2.encoder.value"},
	}
	for _, tt := range tests {
		if got := PastName(tt.slot, tt.encDec); got != tt.past {
			t.Errorf("PastName(%+v, %v) = %q, want %q", tt.slot, tt.encDec, got, tt.past)
		}
		if got := PresentName(tt.slot, tt.encDec); got != tt.pres {
			t.Errorf("PresentName(%+v, %v) = %q, want %q", tt.slot, tt.encDec, got, tt.pres)
		}
	}
}

func TestParsePresent(t *testing.T) {
	tests := []struct {
		name string
		slot KVSlot
		ok   bool
	}{
		{"present.0.key", KVSlot{Layer: 0, Key: true}, true},
		{"present.5.value", KVSlot{Layer: 5}, true},
		{"present.2.decoder.key", KVSlot{Layer: 2, Key: true}, true},
		{"present.2.encoder.value", KVSlot{Layer: 2, Cross: true}, true},
		{"logits", KVSlot{}, false},
		{"present.x.key", KVSlot{}, false},
		{"present.1.sideways.key", KVSlot{}, false},
		{"present.1.key.extra", KVSlot{}, false},
		{"present.-1.key", KVSlot{}, false},
	}
	for _, tt := range tests {
		slot, ok := ParsePresent(tt.name)
		if ok != tt.ok || slot != tt.slot {
			t.Errorf("ParsePresent(%q) = %+v, %v; want %+v, %v", tt.name, slot, ok, tt.slot, tt.ok)
		}
	}
}

func TestWantsPast(t *testing.T) {
	with := []string{"input_ids", "attention_mask", "past_key_values.0.key"}
	without := []string{"input_ids", "attention_mask"}
	if !WantsPast(with) || WantsPast(without) {
		t.Fatal("WantsPast misclassified inputs")
	}
	if !HasInput(with, "attention_mask") || HasInput(with, "position_ids") {
		t.Fatal("HasInput misclassified inputs")
	}
}

package generate

import "testing"

func TestStopSequenceEarliestMatch(t *testing.T) {
	c := &stopSequenceCriterion{seqs: []string{"END", "no"}}
	done, cut, reason := c.Check(nil, "say no before END")
	if !done {
		t.Fatal("expected match")
	}
	if cut != 4 {
		t.Fatalf("cut = %d, want earliest match start 4", cut)
	}
	if reason != StopSequence {
		t.Fatalf("reason = %q", reason)
	}
}

func TestMaxStopHold(t *testing.T) {
	tests := []struct {
		text string
		stop []string
		want int
	}{
		{"go ", []string{"STOP"}, 0},
		{"go S", []string{"STOP"}, 1},
		{"go STO", []string{"STOP"}, 3},
		{"aa", []string{"aab"}, 2},
		{"xy", []string{"STOP", "y"}, 1},
		{"anything", nil, 0},
		{"", []string{"STOP"}, 0},
	}
	for _, tt := range tests {
		if got := maxStopHold(tt.text, tt.stop); got != tt.want {
			t.Errorf("maxStopHold(%q, %v) = %d, want %d", tt.text, tt.stop, got, tt.want)
		}
	}
}

func TestRuneSafeCut(t *testing.T) {
	full := "aé" // 'a' + two-byte e-acute
	tests := []struct {
		text  string
		from  int
		limit int
		want  int
	}{
		{full, 0, len(full), len(full)},
		{full[:2], 0, 2, 1}, // partial multi-byte tail held back
		{"abc", 1, 3, 3},
		{"\xff\xff\xff\xff", 0, 4, 4}, // junk passes through
	}
	for _, tt := range tests {
		if got := runeSafeCut(tt.text, tt.from, tt.limit); got != tt.want {
			t.Errorf("runeSafeCut(%q, %d, %d) = %d, want %d", tt.text, tt.from, tt.limit, got, tt.want)
		}
	}
}

func TestStreamerFinalOnce(t *testing.T) {
	finals := 0
	var got string
	s := newStreamer(func(text string, final bool) {
		got += text
		if final {
			finals++
		}
	}, nil)
	s.push("he")
	s.push("hell")
	s.finish("hello")
	s.finish("hello")
	if finals != 1 {
		t.Fatalf("final called %d times", finals)
	}
	if got != "hello" {
		t.Fatalf("streamed %q", got)
	}
}

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefaultDoesNotPanic(t *testing.T) {
	t.Parallel()
	log := Default()
	if log == nil {
		t.Fatal("Default() returned nil")
	}
	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e")
}

func TestJSONOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("decode finished", "reason", "eos")

	out := buf.String()
	if !strings.Contains(out, "decode finished") {
		t.Fatalf("message missing from output: %s", out)
	}
	if !strings.Contains(out, `"reason":"eos"`) {
		t.Fatalf("attr missing from output: %s", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("level missing from output: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() > 0 {
		t.Fatalf("expected silence below warn, got: %s", buf.String())
	}
	log.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("warn message missing: %s", buf.String())
	}
}

func TestWithAndWithGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.With("component", "sampler").WithGroup("run").Info("sampled", "id", 7)

	out := buf.String()
	if !strings.Contains(out, `"component":"sampler"`) {
		t.Fatalf("With attr missing: %s", out)
	}
	if !strings.Contains(out, "sampled") {
		t.Fatalf("message missing: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("context logger did not write: %s", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestPrettyAttrRendering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Info("generation finished",
		"reason", "stop_sequence",
		"note", "two words",
		"tps", 41.256,
		"duration", 1530*time.Millisecond,
	)

	out := buf.String()
	if !strings.Contains(out, "generation finished") {
		t.Fatalf("message missing: %s", out)
	}
	if !strings.Contains(out, "reason=stop_sequence") {
		t.Fatalf("plain attr wrong: %s", out)
	}
	if !strings.Contains(out, `note="two words"`) {
		t.Fatalf("string with spaces should be quoted: %s", out)
	}
	if !strings.Contains(out, "tps=41.26") {
		t.Fatalf("float should render with two decimals: %s", out)
	}
	if !strings.Contains(out, "duration=1.53s") {
		t.Fatalf("duration should render rounded: %s", out)
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	nested := h.WithGroup("engine").WithGroup("decode")
	slog.New(nested).Info("step", "key", "val")
	if !strings.Contains(buf.String(), "engine.decode.key=val") {
		t.Fatalf("group prefix wrong: %s", buf.String())
	}

	if h.WithGroup("") != h {
		t.Fatal("WithGroup(\"\") should return the same handler")
	}
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	slog.New(h.WithAttrs([]slog.Attr{slog.String("model", "tiny")})).Info("loaded")
	if !strings.Contains(buf.String(), "model=tiny") {
		t.Fatalf("handler attr missing: %s", buf.String())
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\ttab", true},
		{"has\nnewline", true},
		{`has"quote`, true},
		{"", false},
	}

	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.want {
			t.Errorf("needsQuoting(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()
	log := Nop()
	// Must stay silent at every level.
	log.Debug("quiet")
	log.Info("quiet")
	log.Warn("quiet")
	log.Error("quiet")
	log.With("k", "v").WithGroup("g").Info("still quiet")
}

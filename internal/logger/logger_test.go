package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("model", "toy")
	log.Info("completion done", "tokens", 12)

	out := buf.String()
	for _, want := range []string{`"msg":"completion done"`, `"model":"toy"`, `"tokens":12`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	for name, log := range map[string]func(*bytes.Buffer) Logger{
		"json":   func(b *bytes.Buffer) Logger { return JSON(b, slog.LevelWarn) },
		"text":   func(b *bytes.Buffer) Logger { return Text(b, slog.LevelWarn) },
		"pretty": func(b *bytes.Buffer) Logger { return Pretty(b, slog.LevelWarn) },
	} {
		var buf bytes.Buffer
		l := log(&buf)
		l.Debug("hidden")
		l.Info("hidden")
		if buf.Len() > 0 {
			t.Fatalf("%s: expected nothing below warn, got %q", name, buf.String())
		}
		l.Warn("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Fatalf("%s: expected warn record, got %q", name, buf.String())
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("expected record from context logger, got %q", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	Discard().WithGroup("engine").Error("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"debug-4", slog.LevelDebug - 4},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func newPlainPretty(buf *bytes.Buffer) *PrettyHandler {
	h := NewPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h.color = false
	return h
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(newPlainPretty(&buf)).Warn("context full", "n_ctx", 2048, "prompt", "hello world")

	line := strings.TrimSuffix(buf.String(), "\n")
	if strings.Contains(line, "\n") {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	if !strings.Contains(line, " WRN context full n_ctx=2048 prompt=\"hello world\"") {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestPrettyGroupsAndAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := newPlainPretty(&buf).WithAttrs([]slog.Attr{slog.String("model", "toy")})
	h = h.WithGroup("sampler").WithGroup("mirostat")
	slog.New(h).Info("step", "mu", 10.0, slog.Group("stats", "k", 3))

	out := buf.String()
	for _, want := range []string{"model=toy", "sampler.mirostat.mu=10", "sampler.mirostat.stats.k=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
	if newPlainPretty(&buf).WithGroup("") == nil {
		t.Fatal("empty group returned nil handler")
	}
}

func TestPrettyDurations(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(newPlainPretty(&buf)).Debug("decode", "elapsed", 1234567*time.Microsecond)
	if !strings.Contains(buf.String(), "DBG decode elapsed=1.235s") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]bool{
		"simple":    false,
		"":          false,
		"two words": true,
		"a=b":       true,
		"tab\there": true,
		`q"uote`:    true,
	} {
		if got := needsQuoting(s); got != want {
			t.Errorf("needsQuoting(%q) = %v, want %v", s, got, want)
		}
	}
}

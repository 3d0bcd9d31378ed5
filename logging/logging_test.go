package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyOrderAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyJSONHandler(&buf, nil))

	log.WithGroup("match").With("id", "m1").Info("turn", "turn", 3, "took", 1500*time.Millisecond,
		slog.Group("score", "red", 2, "blue", 0), "err", errors.New("boom"))

	out := buf.String()
	if !strings.HasPrefix(out, "{\n  \"time\": ") {
		t.Fatalf("output does not start with time:\n%s", out)
	}
	if strings.Index(out, `"level"`) > strings.Index(out, `"msg"`) {
		t.Fatalf("level after msg:\n%s", out)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("not json: %v\n%s", err, out)
	}
	if got["msg"] != "turn" || got["level"] != "INFO" {
		t.Fatalf("header=%v", got)
	}
	m, ok := got["match"].(map[string]any)
	if !ok {
		t.Fatalf("match group missing:\n%s", out)
	}
	if m["id"] != "m1" || m["turn"] != float64(3) || m["took"] != "1.5s" || m["err"] != "boom" {
		t.Fatalf("match=%v", m)
	}
	score, ok := m["score"].(map[string]any)
	if !ok || score["red"] != float64(2) {
		t.Fatalf("score=%v", m["score"])
	}
	if strings.Index(out, `"id"`) > strings.Index(out, `"turn": 3`) {
		t.Fatalf("WithAttrs keys should come first:\n%s", out)
	}
}

func TestPrettyLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Warn("loud")
	if !strings.Contains(buf.String(), `"msg": "loud"`) {
		t.Fatalf("warn missing: %s", buf.String())
	}
}

func TestNewFormats(t *testing.T) {
	for _, f := range []string{"", FormatText, FormatJSON, FormatPretty, "JSON"} {
		var buf bytes.Buffer
		log, err := New(&buf, f, slog.LevelDebug)
		if err != nil {
			t.Fatalf("format %q: %v", f, err)
		}
		log.Debug("hello", "k", 1)
		if !strings.Contains(buf.String(), "hello") {
			t.Fatalf("format %q wrote %q", f, buf.String())
		}
	}
	if _, err := New(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Fatalf("xml format should fail")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, " warn ": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want=%v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatalf("bad level should fail")
	}
}

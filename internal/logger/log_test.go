package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter("WARN", &buf)

	lg.Debug("debug line")
	lg.Info("info line")
	lg.Warn("warn line %d", 1)
	lg.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("lines below WARN should be dropped, got:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] ") || !strings.Contains(out, "warn line 1") {
		t.Fatalf("missing warn line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] ") {
		t.Fatalf("missing error line, got:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DEBUG,
		"INFO":  INFO,
		"Warn":  WARN,
		"ERROR": ERROR,
		"bogus": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestWithPrefixesFields(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter("INFO", &buf).With(map[string]interface{}{"rank": 2, "job": "j1"})

	lg.Info("hello")

	if !strings.Contains(buf.String(), "job=j1 rank=2 hello") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestDiscardDropsErrors(t *testing.T) {
	lg := Discard()
	lg.Error("nothing should happen")
	if lg.Level() <= ERROR {
		t.Fatalf("discard logger should sit above ERROR")
	}
}

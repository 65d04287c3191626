package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	prev := LogOutput
	LogOutput = &buf
	defer func() { LogOutput = prev }()

	l := CreateLogger("codec")
	l.SetLevel(logger.INFO)
	l.Debugf("hidden")
	l.Warningf("dropped field %s", "age")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message printed at info level: %q", out)
	}
	if !strings.Contains(out, "WARN  | codec      | dropped field age") {
		t.Errorf("unexpected log line: %q", out)
	}
}

func TestCodecConfigString(t *testing.T) {
	c := CodecConfig{
		Filter:      "demo.*;maxdepth=8",
		Compression: "zstd",
		Format:      "json",
		LogLevel:    "info",
	}

	s := c.String()
	for _, want := range []string{"DECODING", "Max Depth", ": 8", "Max Handles", "unlimited", "zstd", "json"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() misses %q:\n%s", want, s)
		}
	}

	if _, err := c.FilterPolicy(); err != nil {
		t.Errorf("FilterPolicy: %v", err)
	}
	c.Filter = "demo.["
	if _, err := c.FilterPolicy(); err == nil {
		t.Errorf("invalid filter accepted")
	}
}

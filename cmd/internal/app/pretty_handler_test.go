package app

import (
	"log/slog"
	"testing"
	"time"
)

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "has space", want: `"has space"`},
		{in: `k=v`, want: `"k=v"`},
		{in: "line\nbreak", want: `"line\nbreak"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		in     slog.Value
		want   int64
		wantOK bool
	}{
		{name: "int64", in: slog.Int64Value(42), want: 42, wantOK: true},
		{name: "uint64", in: slog.Uint64Value(7), want: 7, wantOK: true},
		{name: "float64", in: slog.Float64Value(3.9), want: 3, wantOK: true},
		{name: "numeric string", in: slog.StringValue(" 128 "), want: 128, wantOK: true},
		{name: "non-numeric string", in: slog.StringValue("fast"), wantOK: false},
		{name: "duration", in: slog.DurationValue(time.Second), wantOK: false},
	}

	for _, tc := range cases {
		got, ok := valueToInt64(tc.in)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Fatalf("%s: valueToInt64=%d,%v want=%d,%v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestLevelTag_Plain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{level: slog.LevelDebug, want: "[DEBUG]"},
		{level: slog.LevelInfo, want: "[INFO]"},
		{level: slog.LevelWarn, want: "[WARN]"},
		{level: slog.LevelError, want: "[ERROR]"},
	}

	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
	}
}

func TestRemapPrettyKey(t *testing.T) {
	t.Parallel()

	if got := remapPrettyKey("status_class"); got != "class" {
		t.Fatalf("remapPrettyKey(status_class)=%q want class", got)
	}
	if got := remapPrettyKey("duration_ms"); got != "duration" {
		t.Fatalf("remapPrettyKey(duration_ms)=%q want duration", got)
	}
	if got := remapPrettyKey("user_id"); got != "user_id" {
		t.Fatalf("remapPrettyKey(user_id)=%q want user_id", got)
	}
}

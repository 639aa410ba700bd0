package extcmd_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"applypilot/internal/services"
	"applypilot/internal/services/extcmd"
)

func mustCommand(t *testing.T, script string) *extcmd.Command {
	t.Helper()
	cmd, err := extcmd.New("test", []string{"sh", "-c", script})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cmd
}

func TestNewRequiresArgv(t *testing.T) {
	_, err := extcmd.New("score", nil)
	if services.Classify(err) != services.ClassFatal {
		t.Fatalf("expected fatal configuration error, got %v", err)
	}
}

func TestCallRoundTripsJSON(t *testing.T) {
	cmd := mustCommand(t, "cat")
	var resp struct {
		Score int `json:"score"`
	}
	if err := cmd.Call(context.Background(), map[string]int{"score": 8}, &resp); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Score != 8 {
		t.Fatalf("expected echoed score 8, got %d", resp.Score)
	}
}

func TestCallClassifiesExitCodes(t *testing.T) {
	cases := []struct {
		script string
		want   services.Class
	}{
		{"echo busy >&2; exit 75", services.ClassTransient},
		{"exit 69", services.ClassFatal},
		{"exit 78", services.ClassFatal},
		{"echo 'bad input' >&2; exit 1", services.ClassPermanent},
		{"echo 'quota exceeded for today' >&2; exit 1", services.ClassFatal},
		{"echo not-json", services.ClassPermanent},
	}
	for _, tc := range cases {
		var resp map[string]any
		err := mustCommand(t, tc.script).Call(context.Background(), struct{}{}, &resp)
		if got := services.Classify(err); got != tc.want {
			t.Fatalf("script %q: got class %q (%v), want %q", tc.script, got, err, tc.want)
		}
	}
}

func TestCallIncludesStderrDetail(t *testing.T) {
	err := mustCommand(t, "echo 'posting closed' >&2; exit 2").Call(context.Background(), struct{}{}, nil)
	if err == nil || !strings.Contains(err.Error(), "posting closed") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}

func TestCallMissingBinaryIsFatal(t *testing.T) {
	cmd, err := extcmd.New("submit", []string{"clearly-not-present-binary"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = cmd.Call(context.Background(), struct{}{}, nil)
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestCallDeadlineIsTransient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := mustCommand(t, "sleep 5").Call(ctx, struct{}{}, nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
}

func TestStreamDeliversLines(t *testing.T) {
	cmd := mustCommand(t, `printf '{"n":1}\n\n{"n":2}\n{"n":3}\n'`)
	var lines []string
	err := cmd.Stream(context.Background(), struct{}{}, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
}

func TestStreamStopsEarly(t *testing.T) {
	cmd := mustCommand(t, `i=0; while true; do i=$((i+1)); echo "{\"n\":$i}"; done`)
	count := 0
	err := cmd.Stream(context.Background(), struct{}{}, func([]byte) error {
		count++
		if count == 2 {
			return extcmd.ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 lines before stop, got %d", count)
	}
}

package image

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func TestParseArchs(t *testing.T) {
	got, err := ParseArchs("89, 120")
	if err != nil {
		t.Fatalf("ParseArchs: %v", err)
	}
	if want := []int{89, 120}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseArchs = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "sm_89", "89,", "-1"} {
		if _, err := ParseArchs(bad); err == nil {
			t.Errorf("ParseArchs(%q) succeeded, want error", bad)
		}
	}
}

func TestParseComputeCaps(t *testing.T) {
	got := parseComputeCaps("12.0\n8.9\n8.9\nN/A\n")
	if want := []int{89, 120}; !reflect.DeepEqual(got, want) {
		t.Errorf("parseComputeCaps = %v, want %v", got, want)
	}
}

func TestArchResolver(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()

	detections := 0
	detect := func(context.Context) []int {
		detections++
		return []int{75}
	}

	fromEnv := ArchResolver("89,120", detect, logger)
	if got := fromEnv(ctx); !reflect.DeepEqual(got, []int{89, 120}) {
		t.Errorf("env resolver = %v", got)
	}
	if detections != 0 {
		t.Errorf("detect called %d times with a valid env value", detections)
	}

	fallback := ArchResolver("garbage", detect, logger)
	fallback(ctx)
	if got := fallback(ctx); !reflect.DeepEqual(got, []int{75}) {
		t.Errorf("fallback resolver = %v", got)
	}
	if detections != 1 {
		t.Errorf("detect called %d times, want 1", detections)
	}
}

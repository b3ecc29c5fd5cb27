package media

import (
	"strings"
	"testing"
	"time"
)

func TestRenderSRT(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 3500 * time.Millisecond, Text: "Welcome to the talk."},
		{Start: 3500 * time.Millisecond, End: 7 * time.Second, Text: "First, the agenda."},
	}

	got := RenderSRT(cues)
	want := "1\n00:00:00,000 --> 00:00:03,500\nWelcome to the talk.\n\n" +
		"2\n00:00:03,500 --> 00:00:07,000\nFirst, the agenda.\n\n"
	if got != want {
		t.Errorf("RenderSRT() = %q, want %q", got, want)
	}
}

func TestRenderVTT(t *testing.T) {
	cues := []Cue{
		{Start: time.Hour + 2*time.Minute + 3*time.Second, End: time.Hour + 2*time.Minute + 5*time.Second, Text: "Later on."},
	}

	got := RenderVTT(cues)
	if !strings.HasPrefix(got, "WEBVTT\n\n") {
		t.Errorf("RenderVTT() missing header: %q", got)
	}
	if !strings.Contains(got, "01:02:03.000 --> 01:02:05.000\nLater on.") {
		t.Errorf("RenderVTT() = %q", got)
	}
}

func TestCuesFromSegments(t *testing.T) {
	cues := CuesFromSegments([]string{"a", "b", "c"}, []float64{1.5, 2.0, 0.5})
	if len(cues) != 3 {
		t.Fatalf("len(cues) = %d, want 3", len(cues))
	}
	if cues[1].Start != 1500*time.Millisecond || cues[1].End != 3500*time.Millisecond {
		t.Errorf("cues[1] = %+v", cues[1])
	}
	if cues[2].Start != 3500*time.Millisecond || cues[2].End != 4*time.Second {
		t.Errorf("cues[2] = %+v", cues[2])
	}
}

func TestCuesFromSegmentsLengthMismatch(t *testing.T) {
	cues := CuesFromSegments([]string{"a", "b"}, []float64{1})
	if len(cues) != 1 {
		t.Errorf("len(cues) = %d, want 1", len(cues))
	}
}

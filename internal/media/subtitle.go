package media

import (
	"fmt"
	"strings"
	"time"
)

// Cue is one subtitle entry.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// RenderSRT renders cues as SubRip text.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(cue.Start), srtTimestamp(cue.End))
		b.WriteString(strings.TrimSpace(cue.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// RenderVTT renders cues as WebVTT text.
func RenderVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "%s --> %s\n", vttTimestamp(cue.Start), vttTimestamp(cue.End))
		b.WriteString(strings.TrimSpace(cue.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

func srtTimestamp(d time.Duration) string {
	h, m, s, ms := splitDuration(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func vttTimestamp(d time.Duration) string {
	h, m, s, ms := splitDuration(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitDuration(d time.Duration) (h, m, s, ms int) {
	if d < 0 {
		d = 0
	}
	h = int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m = int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s = int(d / time.Second)
	d -= time.Duration(s) * time.Second
	ms = int(d / time.Millisecond)
	return h, m, s, ms
}

// CuesFromSegments builds sequential cues from text segments with known
// durations in seconds, splitting long segments is the caller's concern.
func CuesFromSegments(texts []string, durations []float64) []Cue {
	n := len(texts)
	if len(durations) < n {
		n = len(durations)
	}

	cues := make([]Cue, 0, n)
	var at time.Duration
	for i := 0; i < n; i++ {
		length := time.Duration(durations[i] * float64(time.Second))
		cues = append(cues, Cue{
			Start: at,
			End:   at + length,
			Text:  texts[i],
		})
		at += length
	}
	return cues
}

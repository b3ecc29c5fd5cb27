package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"slidecast/internal/config"
)

// ErrToolingFailure marks failures of the external media binaries (ffmpeg,
// ffprobe, pdftoppm, pdftotext, soffice).
var ErrToolingFailure = errors.New("media tooling failure")

// Runner wraps the external media tools. Compose operations are heavy; the
// runner holds a slot semaphore so at most HeavyJobSlots of them run at once
// per process.
type Runner struct {
	probeTimeout   time.Duration
	composeTimeout time.Duration
	heavySlots     chan struct{}
}

// NewRunner builds a Runner from config.
func NewRunner(cfg *config.Config) *Runner {
	slots := cfg.HeavyJobSlots
	if slots < 1 {
		slots = 1
	}
	return &Runner{
		probeTimeout:   cfg.ProbeTimeout,
		composeTimeout: cfg.ComposeTimeout,
		heavySlots:     make(chan struct{}, slots),
	}
}

// acquireHeavy blocks until a compose slot frees up or ctx is done.
func (r *Runner) acquireHeavy(ctx context.Context) error {
	select {
	case r.heavySlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) releaseHeavy() {
	<-r.heavySlots
}

// run executes one tool invocation and returns its combined output.
func (r *Runner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %s: %w, output: %s", ErrToolingFailure, name, err, truncateOutput(output))
	}
	return output, nil
}

func truncateOutput(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of a media file in seconds.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %w", ErrToolingFailure, err)
	}

	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("%w: parse ffprobe output: %w", ErrToolingFailure, err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: no duration for %s", ErrToolingFailure, path)
	}
	return duration, nil
}

// ConcatAudio joins audio parts in order into one mp3.
func (r *Runner) ConcatAudio(ctx context.Context, parts []string, outPath string) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no audio parts to concatenate", ErrToolingFailure)
	}

	listPath, err := writeConcatList(concatAudioList(parts))
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	slog.Info("Concatenating audio", "parts", len(parts), "out", outPath)
	_, err = r.run(ctx,
		"ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:a", "libmp3lame",
		"-q:a", "2",
		"-y",
		outPath,
	)
	return err
}

// TimedImage is one slideshow frame with its display duration in seconds.
type TimedImage struct {
	Path     string
	Duration float64
}

// ComposeSlideshow renders timed stills plus a narration track into an mp4.
// It takes a heavy slot for the duration of the encode.
func (r *Runner) ComposeSlideshow(ctx context.Context, slides []TimedImage, audioPath, outPath string) error {
	if len(slides) == 0 {
		return fmt.Errorf("%w: no slides to compose", ErrToolingFailure)
	}

	if err := r.acquireHeavy(ctx); err != nil {
		return err
	}
	defer r.releaseHeavy()

	ctx, cancel := context.WithTimeout(ctx, r.composeTimeout)
	defer cancel()

	listPath, err := writeConcatList(concatSlideshowList(slides))
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	slog.Info("Composing slideshow", "slides", len(slides), "audio", audioPath, "out", outPath)
	_, err = r.run(ctx,
		"ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-shortest",
		"-y",
		outPath,
	)
	return err
}

// MuxSubtitles embeds a subtitle file as a soft track. language may be empty.
func (r *Runner) MuxSubtitles(ctx context.Context, videoPath, subtitlePath, language, outPath string) error {
	if err := r.acquireHeavy(ctx); err != nil {
		return err
	}
	defer r.releaseHeavy()

	ctx, cancel := context.WithTimeout(ctx, r.composeTimeout)
	defer cancel()

	args := []string{
		"-i", videoPath,
		"-i", subtitlePath,
		"-c", "copy",
		"-c:s", "mov_text",
	}
	if language != "" {
		args = append(args, "-metadata:s:s:0", "language="+language)
	}
	args = append(args, "-y", outPath)

	_, err := r.run(ctx, "ffmpeg", args...)
	return err
}

// OverlayImage draws an image in the bottom-right corner of a video.
func (r *Runner) OverlayImage(ctx context.Context, videoPath, imagePath, outPath string) error {
	if err := r.acquireHeavy(ctx); err != nil {
		return err
	}
	defer r.releaseHeavy()

	ctx, cancel := context.WithTimeout(ctx, r.composeTimeout)
	defer cancel()

	_, err := r.run(ctx,
		"ffmpeg",
		"-i", videoPath,
		"-i", imagePath,
		"-filter_complex", "[1:v]scale=240:-1[pip];[0:v][pip]overlay=W-w-20:H-h-20",
		"-c:a", "copy",
		"-y",
		outPath,
	)
	return err
}

// concatAudioList renders the ffmpeg concat demuxer list for audio parts.
func concatAudioList(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(p))
	}
	return b.String()
}

// concatSlideshowList renders the concat list for timed stills. The last
// frame is repeated without a duration so it is held to the end.
func concatSlideshowList(slides []TimedImage) string {
	var b strings.Builder
	for _, s := range slides {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(s.Path))
		fmt.Fprintf(&b, "duration %.3f\n", s.Duration)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(slides[len(slides)-1].Path))
	return b.String()
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func writeConcatList(content string) (string, error) {
	tmpFile, err := os.CreateTemp("", "slidecast_concat_*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	path := tmpFile.Name()
	tmpFile.Close()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	return path, nil
}

// WorkPath joins a workspace directory and a file name, creating the
// directory if needed.
func WorkPath(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}

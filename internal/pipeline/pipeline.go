package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"slidecast/internal/ai"
	"slidecast/internal/config"
	"slidecast/internal/media"
	"slidecast/internal/state"
	"slidecast/internal/storage"
)

// ErrCancelled is returned by a coordinator that stopped because the task's
// cancellation was observed. It is not a failure; callers must not mark the
// task failed for it.
var ErrCancelled = errors.New("cancellation requested")

// MediaRunner is the slice of the media toolbox the steps consume.
type MediaRunner interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ConcatAudio(ctx context.Context, parts []string, outPath string) error
	ComposeSlideshow(ctx context.Context, slides []media.TimedImage, audioPath, outPath string) error
	MuxSubtitles(ctx context.Context, videoPath, subtitlePath, language, outPath string) error
	OverlayImage(ctx context.Context, videoPath, imagePath, outPath string) error
	ExtractPDFImages(ctx context.Context, pdfPath, outDir string) ([]string, error)
	ExtractPDFText(ctx context.Context, pdfPath string) (string, error)
	ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error)
}

// CancelCheck reports whether the task driving this run has been cancelled.
// It is polled between steps and inside long per-item loops.
type CancelCheck func(ctx context.Context) bool

// Options carries per-run knobs resolved from task kwargs that are not part
// of the persisted file state.
type Options struct {
	SourceIsPDF       bool
	VoiceID           string
	PodcastHostVoice  string
	PodcastGuestVoice string
}

// Deps bundles the collaborators a coordinator needs.
type Deps struct {
	State     *state.Manager
	Storage   storage.Storage
	AI        ai.Service
	Media     MediaRunner
	Config    *config.Config
	Cancelled CancelCheck
}

// Coordinator drives one file's pipeline for one task. It owns no goroutines;
// steps run strictly in order.
type Coordinator struct {
	fileID string
	taskID string
	opts   Options

	st        *state.Manager
	store     storage.Storage
	ai        ai.Service
	media     MediaRunner
	cfg       *config.Config
	cancelled CancelCheck
}

// New builds a coordinator bound to one file and task.
func New(deps Deps, fileID, taskID string, opts Options) *Coordinator {
	cancelled := deps.Cancelled
	if cancelled == nil {
		cancelled = func(context.Context) bool { return false }
	}
	return &Coordinator{
		fileID:    fileID,
		taskID:    taskID,
		opts:      opts,
		st:        deps.State,
		store:     deps.Storage,
		ai:        deps.AI,
		media:     deps.Media,
		cfg:       deps.Config,
		cancelled: cancelled,
	}
}

// RunVideo executes the video pipeline for the file's source kind. Completed
// steps are not redone; the run resumes from the first non-completed,
// non-skipped step.
func (c *Coordinator) RunVideo(ctx context.Context) error {
	var steps []string
	if c.opts.SourceIsPDF {
		steps = []string{
			state.StepSegmentPDF,
			state.StepRevisePDFTranscripts,
			state.StepTranslateVoice,
			state.StepTranslateSubtitles,
			state.StepGeneratePDFChapterImages,
			state.StepGeneratePDFAudio,
			state.StepGeneratePDFSubtitles,
			state.StepComposeVideo,
		}
	} else {
		steps = []string{
			state.StepExtractSlides,
			state.StepConvertSlides,
			state.StepAnalyzeSlides,
			state.StepGenerateTranscripts,
			state.StepReviseTranscripts,
			state.StepTranslateVoice,
			state.StepTranslateSubtitles,
			state.StepGenerateAudio,
			state.StepGenerateAvatar,
			state.StepGenerateSubtitles,
			state.StepComposeVideo,
		}
	}
	return c.run(ctx, steps)
}

// RunPodcast executes the podcast pipeline. segment_pdf_content is included
// as a prerequisite; the engine skips it when an earlier run completed it.
func (c *Coordinator) RunPodcast(ctx context.Context) error {
	steps := []string{
		state.StepSegmentPDF,
		state.StepGeneratePodcastScript,
		state.StepTranslatePodcastScript,
		state.StepGeneratePodcastAudio,
		state.StepGeneratePodcastSubtitles,
		state.StepComposePodcast,
	}
	return c.run(ctx, steps)
}

// run is the shared coordinator skeleton: mark the file processing, walk the
// ordered list, skip completed and skipped steps, stop on cancellation or
// failure, mark the file completed at the end.
func (c *Coordinator) run(ctx context.Context, steps []string) error {
	if err := c.st.MarkProcessing(ctx, c.fileID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	for _, stepID := range steps {
		doc, err := c.st.Get(ctx, c.fileID)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if doc == nil {
			return fmt.Errorf("state missing for file %s", c.fileID)
		}

		entry := doc.Step(stepID)
		if entry == nil {
			return fmt.Errorf("unknown step %s", stepID)
		}
		if entry.Status == state.StepCompleted || entry.Status == state.StepSkipped {
			continue
		}

		if c.cancelled(ctx) {
			return c.stopCancelled(ctx, stepID)
		}

		if err := c.st.SetStepStatus(ctx, c.fileID, stepID, state.StepProcessing, nil); err != nil {
			return fmt.Errorf("step %s: %w", stepID, err)
		}
		slog.Info("Step started", "file_id", c.fileID, "step", stepID)

		data, err := c.invoke(ctx, stepID, doc)
		if err != nil {
			if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
				return c.stopCancelled(ctx, stepID)
			}
			if serr := c.st.SetStepStatus(ctx, c.fileID, stepID, state.StepFailed, nil); serr != nil {
				slog.Error("Failed to mark step failed", "file_id", c.fileID, "step", stepID, "error", serr)
			}
			if serr := c.st.AddError(ctx, c.fileID, stepID, err.Error()); serr != nil {
				slog.Error("Failed to record step error", "file_id", c.fileID, "step", stepID, "error", serr)
			}
			if serr := c.st.MarkFailed(ctx, c.fileID); serr != nil {
				slog.Error("Failed to mark file failed", "file_id", c.fileID, "error", serr)
			}
			return fmt.Errorf("step %s: %w", stepID, err)
		}

		if err := c.st.SetStepStatus(ctx, c.fileID, stepID, state.StepCompleted, data); err != nil {
			return fmt.Errorf("step %s: %w", stepID, err)
		}
		slog.Info("Step completed", "file_id", c.fileID, "step", stepID)
	}

	if err := c.st.MarkCompleted(ctx, c.fileID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// stopCancelled marks the in-flight step and the overall file cancelled and
// reports ErrCancelled.
func (c *Coordinator) stopCancelled(ctx context.Context, stepID string) error {
	// Use a fresh context: the run context may already be dead.
	base := context.WithoutCancel(ctx)
	if err := c.st.SetStepStatus(base, c.fileID, stepID, state.StepCancelled, nil); err != nil {
		slog.Error("Failed to mark step cancelled", "file_id", c.fileID, "step", stepID, "error", err)
	}
	if err := c.st.MarkCancelled(base, c.fileID, stepID); err != nil {
		slog.Error("Failed to mark file cancelled", "file_id", c.fileID, "error", err)
	}
	slog.Info("Run cancelled", "file_id", c.fileID, "step", stepID)
	return ErrCancelled
}

// checkCancel is called inside long per-item loops.
func (c *Coordinator) checkCancel(ctx context.Context) error {
	if ctx.Err() != nil || c.cancelled(ctx) {
		return ErrCancelled
	}
	return nil
}

// invoke maps a step id to its implementation.
func (c *Coordinator) invoke(ctx context.Context, stepID string, doc *state.FileState) (map[string]interface{}, error) {
	switch stepID {
	case state.StepExtractSlides:
		return c.extractSlides(ctx, doc)
	case state.StepConvertSlides:
		return c.convertSlides(ctx, doc)
	case state.StepAnalyzeSlides:
		return c.analyzeSlides(ctx, doc)
	case state.StepGenerateTranscripts:
		return c.generateTranscripts(ctx, doc)
	case state.StepReviseTranscripts:
		return c.reviseTranscripts(ctx, doc)
	case state.StepTranslateVoice:
		return c.translateVoice(ctx, doc)
	case state.StepTranslateSubtitles:
		return c.translateSubtitles(ctx, doc)
	case state.StepGenerateAudio:
		return c.generateAudio(ctx, doc)
	case state.StepGenerateAvatar:
		return c.generateAvatar(ctx, doc)
	case state.StepGenerateSubtitles:
		return c.generateSubtitles(ctx, doc)
	case state.StepComposeVideo:
		return c.composeVideo(ctx, doc)
	case state.StepSegmentPDF:
		return c.segmentPDF(ctx, doc)
	case state.StepRevisePDFTranscripts:
		return c.revisePDFTranscripts(ctx, doc)
	case state.StepGeneratePDFChapterImages:
		return c.generatePDFChapterImages(ctx, doc)
	case state.StepGeneratePDFAudio:
		return c.generatePDFAudio(ctx, doc)
	case state.StepGeneratePDFSubtitles:
		return c.generatePDFSubtitles(ctx, doc)
	case state.StepGeneratePodcastScript:
		return c.generatePodcastScript(ctx, doc)
	case state.StepTranslatePodcastScript:
		return c.translatePodcastScript(ctx, doc)
	case state.StepGeneratePodcastAudio:
		return c.generatePodcastAudio(ctx, doc)
	case state.StepGeneratePodcastSubtitles:
		return c.generatePodcastSubtitles(ctx, doc)
	case state.StepComposePodcast:
		return c.composePodcast(ctx, doc)
	default:
		return nil, fmt.Errorf("no implementation for step %s", stepID)
	}
}

// workspace returns this file's scratch directory.
func (c *Coordinator) workspace() string {
	return c.cfg.FileWorkspace(c.fileID)
}

// voice returns the TTS voice for narration, honoring an explicit override.
func (c *Coordinator) voice() string {
	if c.opts.VoiceID != "" {
		return c.opts.VoiceID
	}
	return c.cfg.TTSVoice
}

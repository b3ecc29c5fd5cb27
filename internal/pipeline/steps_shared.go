package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"slidecast/internal/media"
	"slidecast/internal/state"
	"slidecast/internal/storage"
)

// cancelEvery is how many per-item iterations pass between cancellation
// polls inside long loops.
const cancelEvery = 3

// voiceTexts returns the narration texts the audio steps should speak.
// Priority: voice translation, then revision, then the extractor output.
func (c *Coordinator) voiceTexts(doc *state.FileState) ([]string, error) {
	if data, ok := doc.StepData(state.StepTranslateVoice); ok {
		if texts := dataStrings(data, "transcripts"); len(texts) > 0 {
			return texts, nil
		}
	}
	return c.revisedTexts(doc)
}

// subtitleTexts returns the texts subtitles are rendered from.
// Priority: subtitle translation, then revision, then the extractor output.
func (c *Coordinator) subtitleTexts(doc *state.FileState) ([]string, error) {
	if data, ok := doc.StepData(state.StepTranslateSubtitles); ok {
		if texts := dataStrings(data, "transcripts"); len(texts) > 0 {
			return texts, nil
		}
	}
	return c.revisedTexts(doc)
}

// revisedTexts returns the revised transcripts, falling back to the raw
// extractor output when no revision step has completed.
func (c *Coordinator) revisedTexts(doc *state.FileState) ([]string, error) {
	reviseStep := state.StepReviseTranscripts
	if c.opts.SourceIsPDF {
		reviseStep = state.StepRevisePDFTranscripts
	}
	if data, ok := doc.StepData(reviseStep); ok {
		if texts := dataStrings(data, "transcripts"); len(texts) > 0 {
			return texts, nil
		}
	}
	return c.baseTexts(doc)
}

// baseTexts returns the untouched extractor output: generated slide
// transcripts for slide decks, chapter content for PDFs.
func (c *Coordinator) baseTexts(doc *state.FileState) ([]string, error) {
	if c.opts.SourceIsPDF {
		data, ok := doc.StepData(state.StepSegmentPDF)
		if !ok {
			return nil, fmt.Errorf("no chapters; %s has not completed", state.StepSegmentPDF)
		}
		chapters, err := dataChapters(data)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(chapters))
		for i, ch := range chapters {
			texts[i] = ch.Content
		}
		return texts, nil
	}
	data, ok := doc.StepData(state.StepGenerateTranscripts)
	if !ok {
		return nil, fmt.Errorf("no transcripts; %s has not completed", state.StepGenerateTranscripts)
	}
	texts := dataStrings(data, "transcripts")
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty transcripts from %s", state.StepGenerateTranscripts)
	}
	return texts, nil
}

// translateVoice rewrites the narration texts into the requested voice
// language. The step only exists in the plan when the target differs from
// the source language.
func (c *Coordinator) translateVoice(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.revisedTexts(doc)
	if err != nil {
		return nil, err
	}
	out, err := c.translateAll(ctx, texts, doc.VoiceLanguage)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"transcripts": out,
		"language":    doc.VoiceLanguage,
	}, nil
}

// translateSubtitles rewrites the texts into the subtitle locale.
func (c *Coordinator) translateSubtitles(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.revisedTexts(doc)
	if err != nil {
		return nil, err
	}
	locale := doc.SubtitleLocale()
	out, err := c.translateAll(ctx, texts, locale)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"transcripts": out,
		"language":    locale,
	}, nil
}

func (c *Coordinator) translateAll(ctx context.Context, texts []string, target string) ([]string, error) {
	out := make([]string, 0, len(texts))
	for i, text := range texts {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		translated, err := c.ai.Translate(ctx, text, target)
		if err != nil {
			return nil, fmt.Errorf("translate segment %d: %w", i+1, err)
		}
		out = append(out, translated)
	}
	return out, nil
}

// renderNarration synthesizes one clip per text and measures each clip.
func (c *Coordinator) renderNarration(ctx context.Context, texts []string, voice, dir, prefix string) ([]AudioSegment, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to narrate")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	segs := make([]AudioSegment, 0, len(texts))
	for i, text := range texts {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		clip := filepath.Join(dir, fmt.Sprintf("%s_%03d.mp3", prefix, i+1))
		if err := c.ai.Speech(ctx, text, voice, clip); err != nil {
			return nil, fmt.Errorf("narrate segment %d: %w", i+1, err)
		}
		duration, err := c.media.ProbeDuration(ctx, clip)
		if err != nil {
			return nil, fmt.Errorf("probe segment %d: %w", i+1, err)
		}
		segs = append(segs, AudioSegment{Path: clip, Duration: duration})
	}
	return segs, nil
}

// concatSegments joins clips into one track and returns its total duration.
func (c *Coordinator) concatSegments(ctx context.Context, segs []AudioSegment, outPath string) (float64, error) {
	parts := make([]string, len(segs))
	total := 0.0
	for i, seg := range segs {
		parts[i] = seg.Path
		total += seg.Duration
	}
	if err := c.media.ConcatAudio(ctx, parts, outPath); err != nil {
		return 0, err
	}
	return total, nil
}

// writeSubtitleFiles renders SRT and VTT for texts timed by segs.
func writeSubtitleFiles(texts []string, segs []AudioSegment, dir, base string) (srtPath, vttPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create subtitle dir: %w", err)
	}
	durations := make([]float64, len(segs))
	for i, seg := range segs {
		durations[i] = seg.Duration
	}
	cues := media.CuesFromSegments(texts, durations)
	if len(cues) == 0 {
		return "", "", fmt.Errorf("no cues to render")
	}
	srtPath = filepath.Join(dir, base+".srt")
	vttPath = filepath.Join(dir, base+".vtt")
	if err := os.WriteFile(srtPath, []byte(media.RenderSRT(cues)), 0o644); err != nil {
		return "", "", fmt.Errorf("write srt: %w", err)
	}
	if err := os.WriteFile(vttPath, []byte(media.RenderVTT(cues)), 0o644); err != nil {
		return "", "", fmt.Errorf("write vtt: %w", err)
	}
	return srtPath, vttPath, nil
}

// uploadArtifact pushes a finished file to storage and registers it on the
// state document. On the local provider an upload failure is tolerated and
// the local path stays authoritative; elsewhere it fails the step.
func (c *Coordinator) uploadArtifact(ctx context.Context, name, localPath, key, mime string) (state.Artifact, error) {
	art := state.Artifact{LocalPath: localPath, ContentType: mime}
	uri, err := c.store.UploadFile(ctx, localPath, key, mime)
	if err != nil {
		if c.store.Provider() != "local" {
			return state.Artifact{}, fmt.Errorf("upload %s: %w", name, err)
		}
		slog.Warn("Upload failed on local provider, keeping local path",
			"artifact", name, "key", key, "error", err)
	} else {
		art.StorageKey = key
		art.StorageURI = uri
	}
	if err := c.st.AddArtifact(ctx, c.fileID, name, art); err != nil {
		return state.Artifact{}, fmt.Errorf("register artifact %s: %w", name, err)
	}
	return art, nil
}

// composeVideo renders the slideshow from the chapter or slide images and
// the narration track, overlays the avatar and muxes subtitles when those
// steps produced output, then uploads the finished files.
func (c *Coordinator) composeVideo(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	imageStep := state.StepConvertSlides
	audioStep := state.StepGenerateAudio
	subtitleStep := state.StepGenerateSubtitles
	if c.opts.SourceIsPDF {
		imageStep = state.StepGeneratePDFChapterImages
		audioStep = state.StepGeneratePDFAudio
		subtitleStep = state.StepGeneratePDFSubtitles
	}

	imgData, ok := doc.StepData(imageStep)
	if !ok {
		return nil, fmt.Errorf("no images; %s has not completed", imageStep)
	}
	images := dataStrings(imgData, "images")
	if len(images) == 0 {
		return nil, fmt.Errorf("empty image list from %s", imageStep)
	}

	audioData, ok := doc.StepData(audioStep)
	if !ok {
		return nil, fmt.Errorf("no narration; %s has not completed", audioStep)
	}
	segs, err := dataAudioSegments(audioData)
	if err != nil {
		return nil, err
	}
	audioPath := dataString(audioData, "audio_path")
	if audioPath == "" || len(segs) == 0 {
		return nil, fmt.Errorf("incomplete narration data from %s", audioStep)
	}
	if len(images) != len(segs) {
		return nil, fmt.Errorf("have %d images but %d narration segments", len(images), len(segs))
	}

	slides := make([]media.TimedImage, len(images))
	total := 0.0
	for i := range images {
		slides[i] = media.TimedImage{Path: images[i], Duration: segs[i].Duration}
		total += segs[i].Duration
	}

	outDir := filepath.Join(c.workspace(), "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	cur := filepath.Join(outDir, "slideshow.mp4")
	if err := c.media.ComposeSlideshow(ctx, slides, audioPath, cur); err != nil {
		return nil, err
	}

	if avatarData, ok := doc.StepData(state.StepGenerateAvatar); ok {
		if avatar := dataString(avatarData, "image_path"); avatar != "" {
			next := filepath.Join(outDir, "with_avatar.mp4")
			if err := c.media.OverlayImage(ctx, cur, avatar, next); err != nil {
				return nil, err
			}
			cur = next
		}
	}

	var srtPath, vttPath, locale string
	if subData, ok := doc.StepData(subtitleStep); ok {
		srtPath = dataString(subData, "srt_path")
		vttPath = dataString(subData, "vtt_path")
		locale = dataString(subData, "language")
		if srtPath != "" {
			next := filepath.Join(outDir, "with_subtitles.mp4")
			if err := c.media.MuxSubtitles(ctx, cur, srtPath, locale, next); err != nil {
				return nil, err
			}
			cur = next
		}
	}

	finalPath := filepath.Join(outDir, "final.mp4")
	if cur != finalPath {
		if err := os.Rename(cur, finalPath); err != nil {
			return nil, fmt.Errorf("finalize video: %w", err)
		}
	}

	videoArt, err := c.uploadArtifact(ctx, "final_video", finalPath, storage.VideoKey(c.taskID), "video/mp4")
	if err != nil {
		return nil, err
	}
	if _, err := c.uploadArtifact(ctx, "final_audio", audioPath, storage.AudioKey(c.taskID), "audio/mpeg"); err != nil {
		return nil, err
	}
	if srtPath != "" {
		if _, err := c.uploadArtifact(ctx, "subtitles_srt", srtPath, storage.SubtitleKey(c.taskID, locale, "srt"), "application/x-subrip"); err != nil {
			return nil, err
		}
	}
	if vttPath != "" {
		if _, err := c.uploadArtifact(ctx, "subtitles_vtt", vttPath, storage.SubtitleKey(c.taskID, locale, "vtt"), "text/vtt"); err != nil {
			return nil, err
		}
	}

	return map[string]interface{}{
		"video_path":  finalPath,
		"storage_key": videoArt.StorageKey,
		"storage_uri": videoArt.StorageURI,
		"duration":    total,
	}, nil
}

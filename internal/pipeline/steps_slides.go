package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slidecast/internal/state"
)

const (
	slideAnalysisPrompt = "Describe this presentation slide for a narrator. " +
		"Cover the title, every bullet point, and any chart or diagram. " +
		"Report the content only; do not add commentary."

	transcriptSystemPrompt = "You write voiceover narration for presentation slides. " +
		"Given a slide description, write the paragraph a presenter would speak over that slide. " +
		"Plain prose, no stage directions, no markdown."

	reviseSystemPrompt = "You polish voiceover scripts for text-to-speech. " +
		"Rewrite the paragraph so it flows when read aloud: expand abbreviations, " +
		"spell out numbers and symbols, and smooth abrupt transitions. " +
		"Keep the meaning and approximate length. Return only the rewritten paragraph."

	avatarPrompt = "A friendly professional presenter avatar, head and shoulders, " +
		"neutral studio background, soft lighting, digital illustration style."
)

// extractSlides normalizes the uploaded deck into a PDF in the workspace.
// Decks already in PDF form are used as-is.
func (c *Coordinator) extractSlides(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	ws := c.workspace()
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(doc.FileExt), ".")
	pdfPath := doc.FilePath
	if ext != "pdf" {
		converted, err := c.media.ConvertToPDF(ctx, doc.FilePath, ws)
		if err != nil {
			return nil, err
		}
		pdfPath = converted
	}

	return map[string]interface{}{
		"pdf_path": pdfPath,
	}, nil
}

// convertSlides rasterizes the deck PDF into one PNG per slide.
func (c *Coordinator) convertSlides(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepExtractSlides)
	if !ok {
		return nil, fmt.Errorf("no deck PDF; %s has not completed", state.StepExtractSlides)
	}
	pdfPath := dataString(data, "pdf_path")
	if pdfPath == "" {
		return nil, fmt.Errorf("missing pdf_path from %s", state.StepExtractSlides)
	}

	outDir := filepath.Join(c.workspace(), "slides")
	images, err := c.media.ExtractPDFImages(ctx, pdfPath, outDir)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"images": images,
		"count":  len(images),
	}, nil
}

// analyzeSlides runs the vision model over every slide image.
func (c *Coordinator) analyzeSlides(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepConvertSlides)
	if !ok {
		return nil, fmt.Errorf("no slide images; %s has not completed", state.StepConvertSlides)
	}
	images := dataStrings(data, "images")
	if len(images) == 0 {
		return nil, fmt.Errorf("empty image list from %s", state.StepConvertSlides)
	}

	analyses := make([]string, 0, len(images))
	for i, img := range images {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		analysis, err := c.ai.Vision(ctx, slideAnalysisPrompt, img)
		if err != nil {
			return nil, fmt.Errorf("analyze slide %d: %w", i+1, err)
		}
		analyses = append(analyses, analysis)
	}

	return map[string]interface{}{
		"analyses": analyses,
	}, nil
}

// generateTranscripts turns each slide analysis into narration prose.
func (c *Coordinator) generateTranscripts(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepAnalyzeSlides)
	if !ok {
		return nil, fmt.Errorf("no analyses; %s has not completed", state.StepAnalyzeSlides)
	}
	analyses := dataStrings(data, "analyses")
	if len(analyses) == 0 {
		return nil, fmt.Errorf("empty analyses from %s", state.StepAnalyzeSlides)
	}

	transcripts := make([]string, 0, len(analyses))
	for i, analysis := range analyses {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		text, err := c.ai.Chat(ctx, transcriptSystemPrompt, analysis)
		if err != nil {
			return nil, fmt.Errorf("transcript for slide %d: %w", i+1, err)
		}
		transcripts = append(transcripts, text)
	}

	return map[string]interface{}{
		"transcripts": transcripts,
	}, nil
}

// reviseTranscripts smooths each transcript for speech synthesis.
func (c *Coordinator) reviseTranscripts(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepGenerateTranscripts)
	if !ok {
		return nil, fmt.Errorf("no transcripts; %s has not completed", state.StepGenerateTranscripts)
	}
	transcripts := dataStrings(data, "transcripts")
	if len(transcripts) == 0 {
		return nil, fmt.Errorf("empty transcripts from %s", state.StepGenerateTranscripts)
	}

	revised := make([]string, 0, len(transcripts))
	for i, text := range transcripts {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		out, err := c.ai.Chat(ctx, reviseSystemPrompt, text)
		if err != nil {
			return nil, fmt.Errorf("revise slide %d: %w", i+1, err)
		}
		revised = append(revised, out)
	}

	return map[string]interface{}{
		"transcripts": revised,
	}, nil
}

// generateAudio narrates one clip per slide and joins them into one track.
func (c *Coordinator) generateAudio(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.voiceTexts(doc)
	if err != nil {
		return nil, err
	}

	audioDir := filepath.Join(c.workspace(), "audio")
	segs, err := c.renderNarration(ctx, texts, c.voice(), audioDir, "slide")
	if err != nil {
		return nil, err
	}

	trackPath := filepath.Join(audioDir, "narration.mp3")
	total, err := c.concatSegments(ctx, segs, trackPath)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"audio_path":     trackPath,
		"segments":       segs,
		"total_duration": total,
	}, nil
}

// generateAvatar renders the presenter portrait composited onto the video.
func (c *Coordinator) generateAvatar(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	outPath := filepath.Join(c.workspace(), "avatar.png")
	if err := os.MkdirAll(c.workspace(), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if err := c.ai.GenerateImage(ctx, avatarPrompt, outPath); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"image_path": outPath,
	}, nil
}

// generateSubtitles renders SRT and VTT cues timed by the narration clips.
func (c *Coordinator) generateSubtitles(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.subtitleTexts(doc)
	if err != nil {
		return nil, err
	}
	audioData, ok := doc.StepData(state.StepGenerateAudio)
	if !ok {
		return nil, fmt.Errorf("no narration timing; %s has not completed", state.StepGenerateAudio)
	}
	segs, err := dataAudioSegments(audioData)
	if err != nil {
		return nil, err
	}

	locale := doc.SubtitleLocale()
	base := fmt.Sprintf("%s_%s", doc.FileID, locale)
	srtPath, vttPath, err := writeSubtitleFiles(texts, segs, filepath.Join(c.workspace(), "subtitles"), base)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"srt_path": srtPath,
		"vtt_path": vttPath,
		"language": locale,
	}, nil
}

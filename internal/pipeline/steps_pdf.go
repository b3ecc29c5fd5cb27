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
	segmentSystemPrompt = "You split documents into spoken chapters. " +
		"Given the text of a document, divide it into 3 to 12 chapters that each " +
		"cover one coherent topic, and rewrite each chapter as narration prose. " +
		"Respond with JSON only, in the form " +
		`{"chapters": [{"title": "...", "content": "..."}]}.`

	chapterImagePrompt = "An illustrative title card for a video chapter named %q. " +
		"Clean flat illustration, no text, subject: %s"

	// segmentInputLimit bounds how much document text one chat request
	// carries. Longer documents are cut at this many runes.
	segmentInputLimit = 24000
)

// segmentPDF extracts the document text and has the model break it into
// narrated chapters. The podcast pipeline reuses this step's output.
func (c *Coordinator) segmentPDF(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
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

	text, err := c.media.ExtractPDFText(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("document %s contains no extractable text", doc.FileID)
	}
	if runes := []rune(text); len(runes) > segmentInputLimit {
		text = string(runes[:segmentInputLimit])
	}

	raw, err := c.ai.Chat(ctx, segmentSystemPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("segment document: %w", err)
	}
	var parsed struct {
		Chapters []Chapter `json:"chapters"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("segment document: %w", err)
	}

	chapters := make([]Chapter, 0, len(parsed.Chapters))
	for _, ch := range parsed.Chapters {
		if strings.TrimSpace(ch.Content) == "" {
			continue
		}
		chapters = append(chapters, ch)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("segmentation produced no chapters")
	}

	return map[string]interface{}{
		"chapters":  chapters,
		"pdf_path":  pdfPath,
		"text_size": len(text),
	}, nil
}

// revisePDFTranscripts smooths each chapter's prose for speech synthesis.
func (c *Coordinator) revisePDFTranscripts(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepSegmentPDF)
	if !ok {
		return nil, fmt.Errorf("no chapters; %s has not completed", state.StepSegmentPDF)
	}
	chapters, err := dataChapters(data)
	if err != nil {
		return nil, err
	}

	revised := make([]string, 0, len(chapters))
	for i, ch := range chapters {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		out, err := c.ai.Chat(ctx, reviseSystemPrompt, ch.Content)
		if err != nil {
			return nil, fmt.Errorf("revise chapter %d: %w", i+1, err)
		}
		revised = append(revised, out)
	}

	return map[string]interface{}{
		"transcripts": revised,
	}, nil
}

// generatePDFChapterImages renders one title card per chapter.
func (c *Coordinator) generatePDFChapterImages(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepSegmentPDF)
	if !ok {
		return nil, fmt.Errorf("no chapters; %s has not completed", state.StepSegmentPDF)
	}
	chapters, err := dataChapters(data)
	if err != nil {
		return nil, err
	}

	outDir := filepath.Join(c.workspace(), "chapters")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chapter image dir: %w", err)
	}

	images := make([]string, 0, len(chapters))
	for i, ch := range chapters {
		if err := c.checkCancel(ctx); err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(chapterImagePrompt, ch.Title, snippet(ch.Content, 300))
		outPath := filepath.Join(outDir, fmt.Sprintf("chapter_%03d.png", i+1))
		if err := c.ai.GenerateImage(ctx, prompt, outPath); err != nil {
			return nil, fmt.Errorf("image for chapter %d: %w", i+1, err)
		}
		images = append(images, outPath)
	}

	return map[string]interface{}{
		"images": images,
		"count":  len(images),
	}, nil
}

// generatePDFAudio narrates one clip per chapter and joins them.
func (c *Coordinator) generatePDFAudio(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.voiceTexts(doc)
	if err != nil {
		return nil, err
	}

	audioDir := filepath.Join(c.workspace(), "audio")
	segs, err := c.renderNarration(ctx, texts, c.voice(), audioDir, "chapter")
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

// generatePDFSubtitles renders SRT and VTT cues timed by the chapter clips.
func (c *Coordinator) generatePDFSubtitles(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	texts, err := c.subtitleTexts(doc)
	if err != nil {
		return nil, err
	}
	audioData, ok := doc.StepData(state.StepGeneratePDFAudio)
	if !ok {
		return nil, fmt.Errorf("no narration timing; %s has not completed", state.StepGeneratePDFAudio)
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

// snippet truncates s to at most n runes for use inside a prompt.
func snippet(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}

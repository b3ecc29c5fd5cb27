package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slidecast/internal/state"
	"slidecast/internal/storage"
)

const (
	podcastSystemPrompt = "You write two-person podcast episodes. " +
		"Given chaptered document notes, write a conversation between a host and a guest " +
		"that walks through the material: the host asks and steers, the guest explains. " +
		"Cover every chapter. Respond with JSON only, in the form " +
		`{"lines": [{"speaker": "host", "text": "..."}, {"speaker": "guest", "text": "..."}]}.`

	// defaultGuestVoice keeps the two podcast speakers distinguishable when
	// no guest voice is configured.
	defaultGuestVoice = "onyx"
)

// podcastLines returns the dialogue to voice, preferring the translated
// script when the translation step ran.
func podcastLines(doc *state.FileState) ([]DialogueLine, error) {
	if data, ok := doc.StepData(state.StepTranslatePodcastScript); ok {
		if lines, err := dataDialogue(data); err == nil && len(lines) > 0 {
			return lines, nil
		}
	}
	data, ok := doc.StepData(state.StepGeneratePodcastScript)
	if !ok {
		return nil, fmt.Errorf("no script; %s has not completed", state.StepGeneratePodcastScript)
	}
	lines, err := dataDialogue(data)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty script from %s", state.StepGeneratePodcastScript)
	}
	return lines, nil
}

// podcastLocale is the language podcast subtitles and scripts are in.
func podcastLocale(doc *state.FileState) string {
	if doc.PodcastTranscriptLanguage != "" {
		return doc.PodcastTranscriptLanguage
	}
	return state.SourceLanguage
}

// generatePodcastScript turns the document chapters into host and guest
// dialogue.
func (c *Coordinator) generatePodcastScript(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepSegmentPDF)
	if !ok {
		return nil, fmt.Errorf("no chapters; %s has not completed", state.StepSegmentPDF)
	}
	chapters, err := dataChapters(data)
	if err != nil {
		return nil, err
	}

	var notes strings.Builder
	for i, ch := range chapters {
		fmt.Fprintf(&notes, "Chapter %d: %s\n%s\n\n", i+1, ch.Title, ch.Content)
	}

	raw, err := c.ai.Chat(ctx, podcastSystemPrompt, notes.String())
	if err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	var parsed struct {
		Lines []DialogueLine `json:"lines"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	lines := make([]DialogueLine, 0, len(parsed.Lines))
	for _, line := range parsed.Lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		speaker := "host"
		if strings.EqualFold(strings.TrimSpace(line.Speaker), "guest") {
			speaker = "guest"
		}
		lines = append(lines, DialogueLine{Speaker: speaker, Text: text})
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("script has no usable lines")
	}

	return map[string]interface{}{
		"lines": lines,
	}, nil
}

// translatePodcastScript rewrites every line into the podcast language.
func (c *Coordinator) translatePodcastScript(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	data, ok := doc.StepData(state.StepGeneratePodcastScript)
	if !ok {
		return nil, fmt.Errorf("no script; %s has not completed", state.StepGeneratePodcastScript)
	}
	lines, err := dataDialogue(data)
	if err != nil {
		return nil, err
	}

	target := doc.PodcastTranscriptLanguage
	out := make([]DialogueLine, 0, len(lines))
	for i, line := range lines {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		translated, err := c.ai.Translate(ctx, line.Text, target)
		if err != nil {
			return nil, fmt.Errorf("translate line %d: %w", i+1, err)
		}
		out = append(out, DialogueLine{Speaker: line.Speaker, Text: translated})
	}

	return map[string]interface{}{
		"lines":    out,
		"language": target,
	}, nil
}

// generatePodcastAudio voices each line with its speaker's voice.
func (c *Coordinator) generatePodcastAudio(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	lines, err := podcastLines(doc)
	if err != nil {
		return nil, err
	}

	hostVoice := c.opts.PodcastHostVoice
	if hostVoice == "" {
		hostVoice = c.voice()
	}
	guestVoice := c.opts.PodcastGuestVoice
	if guestVoice == "" {
		guestVoice = defaultGuestVoice
	}

	dir := filepath.Join(c.workspace(), "podcast")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create podcast dir: %w", err)
	}

	segs := make([]AudioSegment, 0, len(lines))
	for i, line := range lines {
		if i%cancelEvery == 0 {
			if err := c.checkCancel(ctx); err != nil {
				return nil, err
			}
		}
		voice := hostVoice
		if line.Speaker == "guest" {
			voice = guestVoice
		}
		clip := filepath.Join(dir, fmt.Sprintf("line_%03d.mp3", i+1))
		if err := c.ai.Speech(ctx, line.Text, voice, clip); err != nil {
			return nil, fmt.Errorf("voice line %d: %w", i+1, err)
		}
		duration, err := c.media.ProbeDuration(ctx, clip)
		if err != nil {
			return nil, fmt.Errorf("probe line %d: %w", i+1, err)
		}
		segs = append(segs, AudioSegment{Path: clip, Duration: duration})
	}

	return map[string]interface{}{
		"segments": segs,
	}, nil
}

// generatePodcastSubtitles renders cues for the dialogue, labeled by
// speaker.
func (c *Coordinator) generatePodcastSubtitles(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	lines, err := podcastLines(doc)
	if err != nil {
		return nil, err
	}
	audioData, ok := doc.StepData(state.StepGeneratePodcastAudio)
	if !ok {
		return nil, fmt.Errorf("no dialogue timing; %s has not completed", state.StepGeneratePodcastAudio)
	}
	segs, err := dataAudioSegments(audioData)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(lines))
	for i, line := range lines {
		label := "Host"
		if line.Speaker == "guest" {
			label = "Guest"
		}
		texts[i] = fmt.Sprintf("%s: %s", label, line.Text)
	}

	locale := podcastLocale(doc)
	base := fmt.Sprintf("%s_%s", doc.FileID, locale)
	srtPath, vttPath, err := writeSubtitleFiles(texts, segs, filepath.Join(c.workspace(), "podcast"), base)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"srt_path": srtPath,
		"vtt_path": vttPath,
		"language": locale,
	}, nil
}

// composePodcast joins the dialogue clips into the final episode and
// uploads it.
func (c *Coordinator) composePodcast(ctx context.Context, doc *state.FileState) (map[string]interface{}, error) {
	audioData, ok := doc.StepData(state.StepGeneratePodcastAudio)
	if !ok {
		return nil, fmt.Errorf("no dialogue clips; %s has not completed", state.StepGeneratePodcastAudio)
	}
	segs, err := dataAudioSegments(audioData)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty clip list from %s", state.StepGeneratePodcastAudio)
	}

	outDir := filepath.Join(c.workspace(), "podcast")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create podcast dir: %w", err)
	}
	finalPath := filepath.Join(outDir, "final.mp3")
	total, err := c.concatSegments(ctx, segs, finalPath)
	if err != nil {
		return nil, err
	}

	art, err := c.uploadArtifact(ctx, "podcast_audio", finalPath, storage.PodcastKey(c.taskID), "audio/mpeg")
	if err != nil {
		return nil, err
	}

	if subData, ok := doc.StepData(state.StepGeneratePodcastSubtitles); ok {
		locale := dataString(subData, "language")
		if srtPath := dataString(subData, "srt_path"); srtPath != "" {
			if _, err := c.uploadArtifact(ctx, "podcast_subtitles_srt", srtPath, storage.PodcastSubtitleKey(c.taskID, locale, "srt"), "application/x-subrip"); err != nil {
				return nil, err
			}
		}
		if vttPath := dataString(subData, "vtt_path"); vttPath != "" {
			if _, err := c.uploadArtifact(ctx, "podcast_subtitles_vtt", vttPath, storage.PodcastSubtitleKey(c.taskID, locale, "vtt"), "text/vtt"); err != nil {
				return nil, err
			}
		}
	}

	return map[string]interface{}{
		"audio_path":  finalPath,
		"storage_key": art.StorageKey,
		"storage_uri": art.StorageURI,
		"duration":    total,
	}, nil
}

package state

import (
	"time"
)

// SourceLanguage is the language documents arrive in; translation steps are
// skipped when the target matches it.
const SourceLanguage = "english"

// Step identifiers. Every state document carries all of them; conditional
// ones start out skipped when their options rule them out.
const (
	StepExtractSlides       = "extract_slides"
	StepConvertSlides       = "convert_slides"
	StepAnalyzeSlides       = "analyze_slides"
	StepGenerateTranscripts = "generate_transcripts"
	StepReviseTranscripts   = "revise_transcripts"
	StepTranslateVoice      = "translate_voice_transcripts"
	StepTranslateSubtitles  = "translate_subtitle_transcripts"
	StepGenerateAudio       = "generate_audio"
	StepGenerateAvatar      = "generate_avatar"
	StepGenerateSubtitles   = "generate_subtitles"
	StepComposeVideo        = "compose_video"

	StepSegmentPDF               = "segment_pdf_content"
	StepRevisePDFTranscripts     = "revise_pdf_transcripts"
	StepGeneratePDFChapterImages = "generate_pdf_chapter_images"
	StepGeneratePDFAudio         = "generate_pdf_audio"
	StepGeneratePDFSubtitles     = "generate_pdf_subtitles"

	StepGeneratePodcastScript    = "generate_podcast_script"
	StepTranslatePodcastScript   = "translate_podcast_script"
	StepGeneratePodcastAudio     = "generate_podcast_audio"
	StepGeneratePodcastSubtitles = "generate_podcast_subtitles"
	StepComposePodcast           = "compose_podcast"
)

// AllSteps lists every step id in graph order (slides video, pdf video,
// podcast).
var AllSteps = []string{
	StepExtractSlides,
	StepConvertSlides,
	StepAnalyzeSlides,
	StepGenerateTranscripts,
	StepReviseTranscripts,
	StepTranslateVoice,
	StepTranslateSubtitles,
	StepGenerateAudio,
	StepGenerateAvatar,
	StepGenerateSubtitles,
	StepComposeVideo,
	StepSegmentPDF,
	StepRevisePDFTranscripts,
	StepGeneratePDFChapterImages,
	StepGeneratePDFAudio,
	StepGeneratePDFSubtitles,
	StepGeneratePodcastScript,
	StepTranslatePodcastScript,
	StepGeneratePodcastAudio,
	StepGeneratePodcastSubtitles,
	StepComposePodcast,
}

// FileStatus is the overall pipeline state for one file.
type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
	FileCancelled  FileStatus = "cancelled"
)

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
	StepCancelled  StepStatus = "cancelled"
)

// CanStepTransition reports whether from → to is allowed. The base graph is
// pending → processing → (completed | failed | cancelled) and
// pending → (skipped | cancelled). Moves back into processing are allowed
// from failed, cancelled, skipped and processing itself so a resumed or
// re-optioned run can pick up a step that never completed; completed is the
// only sink.
func CanStepTransition(from, to StepStatus) bool {
	switch from {
	case StepPending:
		return to == StepProcessing || to == StepSkipped || to == StepCancelled
	case StepProcessing:
		return to == StepCompleted || to == StepFailed || to == StepCancelled || to == StepProcessing
	case StepFailed, StepCancelled, StepSkipped:
		return to == StepProcessing
	default:
		return false
	}
}

// StepState is one step's slice of the document. Data is only meaningful
// once Status is completed.
type StepState struct {
	Status StepStatus             `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// Artifact is an externally addressable output registered by a step.
type Artifact struct {
	LocalPath   string `json:"local_path,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	StorageURI  string `json:"storage_uri,omitempty"`
	ContentType string `json:"content_type"`
}

// FileError is one entry of the diagnostics trail.
type FileError struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FileState is the per-file pipeline document stored under
// ai_slider:state:<file_id>. Version backs the compare-and-set discipline:
// every write increments it and writers re-read on conflict.
type FileState struct {
	FileID      string     `json:"file_id"`
	FilePath    string     `json:"file_path"`
	FileExt     string     `json:"file_ext"`
	Status      FileStatus `json:"status"`
	CurrentStep string     `json:"current_step"`
	TaskID      string     `json:"task_id,omitempty"`

	VoiceLanguage             string  `json:"voice_language,omitempty"`
	SubtitleLanguage          *string `json:"subtitle_language,omitempty"`
	PodcastTranscriptLanguage string  `json:"podcast_transcript_language,omitempty"`

	GenerateAvatar    bool `json:"generate_avatar"`
	GenerateSubtitles bool `json:"generate_subtitles"`
	GenerateVideo     bool `json:"generate_video"`
	GeneratePodcast   bool `json:"generate_podcast"`

	Steps     map[string]*StepState `json:"steps"`
	Errors    []FileError           `json:"errors"`
	Artifacts map[string]Artifact   `json:"artifacts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Step returns the step entry, or nil when the id is unknown.
func (s *FileState) Step(step string) *StepState {
	if s.Steps == nil {
		return nil
	}
	return s.Steps[step]
}

// StepData returns a completed step's data. Any other status reads as
// absent.
func (s *FileState) StepData(step string) (map[string]interface{}, bool) {
	entry := s.Step(step)
	if entry == nil || entry.Status != StepCompleted {
		return nil, false
	}
	return entry.Data, true
}

// StepCompletedOK reports whether the step finished successfully.
func (s *FileState) StepCompletedOK(step string) bool {
	entry := s.Step(step)
	return entry != nil && entry.Status == StepCompleted
}

// ProcessingStep returns the id of the step currently marked processing, or
// "" when none is.
func (s *FileState) ProcessingStep() string {
	for id, entry := range s.Steps {
		if entry != nil && entry.Status == StepProcessing {
			return id
		}
	}
	return ""
}

// NeedsVoiceTranslation reports whether the voice track requires a
// translation pass.
func (s *FileState) NeedsVoiceTranslation() bool {
	return s.VoiceLanguage != "" && s.VoiceLanguage != SourceLanguage
}

// NeedsSubtitleTranslation reports whether subtitles require a translation
// pass. A nil target means subtitles follow the source language.
func (s *FileState) NeedsSubtitleTranslation() bool {
	return s.SubtitleLanguage != nil && *s.SubtitleLanguage != SourceLanguage
}

// NeedsPodcastTranslation reports whether the podcast script requires a
// translation pass.
func (s *FileState) NeedsPodcastTranslation() bool {
	return s.PodcastTranscriptLanguage != "" && s.PodcastTranscriptLanguage != SourceLanguage
}

// SubtitleLocale returns the locale subtitles are produced in.
func (s *FileState) SubtitleLocale() string {
	if s.SubtitleLanguage != nil && *s.SubtitleLanguage != "" {
		return *s.SubtitleLanguage
	}
	return SourceLanguage
}

// InitFields carries everything Create needs to materialize a document.
type InitFields struct {
	FilePath string
	FileExt  string
	TaskID   string

	VoiceLanguage             string
	SubtitleLanguage          *string
	PodcastTranscriptLanguage string

	GenerateAvatar    bool
	GenerateSubtitles bool
	GenerateVideo     bool
	GeneratePodcast   bool

	// Source decides which extraction chain starts out pending.
	SourceIsPDF bool
}

// initialSteps builds the full steps map, marking conditional steps skipped
// when the options rule them out.
func initialSteps(f InitFields) map[string]*StepState {
	steps := make(map[string]*StepState, len(AllSteps))
	for _, id := range AllSteps {
		steps[id] = &StepState{Status: StepPending}
	}

	skip := func(id string) { steps[id].Status = StepSkipped }

	if f.VoiceLanguage == "" || f.VoiceLanguage == SourceLanguage {
		skip(StepTranslateVoice)
	}
	if f.SubtitleLanguage == nil || *f.SubtitleLanguage == SourceLanguage {
		skip(StepTranslateSubtitles)
	}
	if !f.GenerateAvatar || f.SourceIsPDF {
		skip(StepGenerateAvatar)
	}
	if !f.GenerateSubtitles {
		skip(StepGenerateSubtitles)
		skip(StepGeneratePDFSubtitles)
		skip(StepGeneratePodcastSubtitles)
	}
	if !f.GenerateVideo {
		skip(StepComposeVideo)
	}
	if f.PodcastTranscriptLanguage == "" || f.PodcastTranscriptLanguage == SourceLanguage {
		skip(StepTranslatePodcastScript)
	}
	if !f.GeneratePodcast {
		skip(StepGeneratePodcastScript)
		skip(StepTranslatePodcastScript)
		skip(StepGeneratePodcastAudio)
		skip(StepGeneratePodcastSubtitles)
		skip(StepComposePodcast)
	}

	return steps
}

// FirstStep returns the opening step for the source kind.
func FirstStep(sourceIsPDF bool) string {
	if sourceIsPDF {
		return StepSegmentPDF
	}
	return StepExtractSlides
}

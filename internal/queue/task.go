package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType selects the coordinator a worker dispatches to.
type TaskType string

const (
	TaskVideo   TaskType = "video"
	TaskPodcast TaskType = "podcast"
	TaskPurge   TaskType = "file_purge"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a sink state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from → to is a legal move:
// queued → processing|cancelled; processing → completed|failed|cancelled;
// terminal states are sinks.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// SourceType says what kind of document a task processes.
type SourceType string

const (
	SourcePDF    SourceType = "pdf"
	SourceSlides SourceType = "slides"
)

// Kwargs is the typed form of the task option bag. The JSON wire form is the
// flat map older clients submit; optional fields are pointers or omitempty so
// round-trips preserve absence.
type Kwargs struct {
	FileID   string     `json:"file_id"`
	FilePath string     `json:"file_path"`
	FileExt  string     `json:"file_ext"`
	Source   SourceType `json:"source_type,omitempty"`

	VoiceLanguage      string  `json:"voice_language,omitempty"`
	SubtitleLanguage   *string `json:"subtitle_language,omitempty"`
	TranscriptLanguage string  `json:"transcript_language,omitempty"`

	GenerateAvatar    bool `json:"generate_avatar"`
	GenerateSubtitles bool `json:"generate_subtitles"`
	GenerateVideo     bool `json:"generate_video"`
	GeneratePodcast   bool `json:"generate_podcast"`

	VoiceID           string `json:"voice_id,omitempty"`
	PodcastHostVoice  string `json:"podcast_host_voice,omitempty"`
	PodcastGuestVoice string `json:"podcast_guest_voice,omitempty"`

	// Purge tasks only.
	DeleteRemote bool `json:"delete_remote,omitempty"`
}

// Task is one unit of queued work.
type Task struct {
	ID        string                 `json:"task_id"`
	Type      TaskType               `json:"task_type"`
	Status    Status                 `json:"status"`
	Kwargs    Kwargs                 `json:"kwargs"`
	Result    map[string]interface{} `json:"result"`
	Error     *string                `json:"error"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Validate checks the fields every task must carry (worker-side contract).
func (t *Task) Validate() error {
	if t.Kwargs.FileID == "" {
		return fmt.Errorf("%w: missing file_id", ErrInvalidTaskPayload)
	}
	if t.Kwargs.FilePath == "" {
		return fmt.Errorf("%w: missing file_path", ErrInvalidTaskPayload)
	}
	if t.Kwargs.FileExt == "" {
		return fmt.Errorf("%w: missing file_ext", ErrInvalidTaskPayload)
	}
	if t.Type == TaskPurge {
		return nil
	}
	if t.Kwargs.Source != SourcePDF && t.Kwargs.Source != SourceSlides {
		return fmt.Errorf("%w: source_type must be pdf or slides, got %q", ErrInvalidTaskPayload, t.Kwargs.Source)
	}
	return nil
}

// ErrMessage returns the error string or "".
func (t *Task) ErrMessage() string {
	if t.Error == nil {
		return ""
	}
	return *t.Error
}

// SanitizedKwargs renders kwargs as JSON with filesystem paths removed, the
// form mirrored to the relational store.
func (t *Task) SanitizedKwargs() string {
	clean := t.Kwargs
	clean.FilePath = ""
	data, err := json.Marshal(clean)
	if err != nil {
		return "{}"
	}
	return string(data)
}

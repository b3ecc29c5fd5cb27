package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusQueued, StatusProcessing},
		{StatusQueued, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
	}
	for _, c := range legal {
		if !CanTransition(c.from, c.to) {
			t.Errorf("%s → %s should be legal", c.from, c.to)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusQueued, StatusCompleted},
		{StatusQueued, StatusFailed},
		{StatusCompleted, StatusProcessing},
		{StatusFailed, StatusQueued},
		{StatusCancelled, StatusProcessing},
		{StatusCancelled, StatusCancelled},
		{StatusProcessing, StatusQueued},
	}
	for _, c := range illegal {
		if CanTransition(c.from, c.to) {
			t.Errorf("%s → %s should be illegal", c.from, c.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidate(t *testing.T) {
	task := &Task{Type: TaskVideo, Kwargs: Kwargs{
		FileID:   "f1",
		FilePath: "/uploads/f1.pdf",
		FileExt:  ".pdf",
		Source:   SourcePDF,
	}}
	if err := task.Validate(); err != nil {
		t.Errorf("Valid task rejected: %v", err)
	}

	missing := []func(*Kwargs){
		func(k *Kwargs) { k.FileID = "" },
		func(k *Kwargs) { k.FilePath = "" },
		func(k *Kwargs) { k.FileExt = "" },
		func(k *Kwargs) { k.Source = "spreadsheet" },
	}
	for i, strip := range missing {
		kw := task.Kwargs
		strip(&kw)
		bad := &Task{Type: TaskVideo, Kwargs: kw}
		err := bad.Validate()
		if err == nil {
			t.Errorf("case %d: expected validation error", i)
			continue
		}
		if !errors.Is(err, ErrInvalidTaskPayload) {
			t.Errorf("case %d: expected ErrInvalidTaskPayload, got %v", i, err)
		}
	}

	// Purge tasks skip the source_type requirement.
	purge := &Task{Type: TaskPurge, Kwargs: Kwargs{FileID: "f1", FilePath: "/x", FileExt: ".pdf"}}
	if err := purge.Validate(); err != nil {
		t.Errorf("Purge task rejected: %v", err)
	}
}

func TestSanitizedKwargsDropsPath(t *testing.T) {
	task := &Task{Kwargs: Kwargs{
		FileID:   "f1",
		FilePath: "/var/uploads/secret/f1.pdf",
		FileExt:  ".pdf",
		Source:   SourcePDF,
	}}

	clean := task.SanitizedKwargs()
	if strings.Contains(clean, "/var/uploads") {
		t.Errorf("Sanitized kwargs leaked path: %s", clean)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &decoded); err != nil {
		t.Fatalf("Sanitized kwargs not valid JSON: %v", err)
	}
	if decoded["file_id"] != "f1" {
		t.Errorf("file_id missing from sanitized kwargs: %v", decoded)
	}
}

func TestKwargsWireForm(t *testing.T) {
	sub := "french"
	kw := Kwargs{
		FileID:           "f1",
		FilePath:         "/uploads/f1.pptx",
		FileExt:          ".pptx",
		Source:           SourceSlides,
		VoiceLanguage:    "spanish",
		SubtitleLanguage: &sub,
		GenerateVideo:    true,
		GenerateAvatar:   true,
	}

	data, err := json.Marshal(kw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Kwargs
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.SubtitleLanguage == nil || *back.SubtitleLanguage != "french" {
		t.Error("subtitle_language lost in round trip")
	}
	if back.Source != SourceSlides {
		t.Errorf("source_type = %s", back.Source)
	}

	// Absent optional language stays absent, not "".
	var minimal Kwargs
	if err := json.Unmarshal([]byte(`{"file_id":"x","file_path":"/p","file_ext":".pdf"}`), &minimal); err != nil {
		t.Fatal(err)
	}
	if minimal.SubtitleLanguage != nil {
		t.Error("absent subtitle_language should stay nil")
	}
}

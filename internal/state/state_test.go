package state

import (
	"testing"
)

func TestCanStepTransition(t *testing.T) {
	legal := []struct{ from, to StepStatus }{
		{StepPending, StepProcessing},
		{StepPending, StepSkipped},
		{StepPending, StepCancelled},
		{StepProcessing, StepCompleted},
		{StepProcessing, StepFailed},
		{StepProcessing, StepCancelled},
		{StepProcessing, StepProcessing},
		{StepFailed, StepProcessing},
		{StepCancelled, StepProcessing},
		{StepSkipped, StepProcessing},
	}
	for _, c := range legal {
		if !CanStepTransition(c.from, c.to) {
			t.Errorf("%s → %s should be legal", c.from, c.to)
		}
	}

	illegal := []struct{ from, to StepStatus }{
		{StepPending, StepCompleted},
		{StepPending, StepFailed},
		{StepCompleted, StepProcessing},
		{StepCompleted, StepPending},
		{StepCompleted, StepFailed},
		{StepProcessing, StepPending},
		{StepProcessing, StepSkipped},
		{StepFailed, StepCompleted},
		{StepSkipped, StepCompleted},
	}
	for _, c := range illegal {
		if CanStepTransition(c.from, c.to) {
			t.Errorf("%s → %s should be illegal", c.from, c.to)
		}
	}
}

func TestInitialStepsDefaults(t *testing.T) {
	// English voice, no subtitles requested, video only, slides source.
	steps := initialSteps(InitFields{
		VoiceLanguage: SourceLanguage,
		GenerateVideo: true,
	})

	if len(steps) != len(AllSteps) {
		t.Fatalf("Expected %d steps, got %d", len(AllSteps), len(steps))
	}

	wantSkipped := []string{
		StepTranslateVoice,
		StepTranslateSubtitles,
		StepGenerateAvatar,
		StepGenerateSubtitles,
		StepGeneratePDFSubtitles,
		StepGeneratePodcastScript,
		StepTranslatePodcastScript,
		StepGeneratePodcastAudio,
		StepGeneratePodcastSubtitles,
		StepComposePodcast,
	}
	for _, id := range wantSkipped {
		if steps[id].Status != StepSkipped {
			t.Errorf("%s should start skipped, got %s", id, steps[id].Status)
		}
	}

	wantPending := []string{
		StepExtractSlides,
		StepAnalyzeSlides,
		StepGenerateTranscripts,
		StepReviseTranscripts,
		StepGenerateAudio,
		StepComposeVideo,
		StepSegmentPDF,
	}
	for _, id := range wantPending {
		if steps[id].Status != StepPending {
			t.Errorf("%s should start pending, got %s", id, steps[id].Status)
		}
	}
}

func TestInitialStepsTranslationBranches(t *testing.T) {
	fr := "french"
	steps := initialSteps(InitFields{
		VoiceLanguage:     "spanish",
		SubtitleLanguage:  &fr,
		GenerateSubtitles: true,
		GenerateVideo:     true,
	})

	if steps[StepTranslateVoice].Status != StepPending {
		t.Error("spanish voice should keep translate_voice_transcripts pending")
	}
	if steps[StepTranslateSubtitles].Status != StepPending {
		t.Error("french subtitles should keep translate_subtitle_transcripts pending")
	}
	if steps[StepGenerateSubtitles].Status != StepPending {
		t.Error("generate_subtitles flag should keep the step pending")
	}
}

func TestInitialStepsAvatarPDFOnlyOnSlides(t *testing.T) {
	steps := initialSteps(InitFields{
		VoiceLanguage:  SourceLanguage,
		GenerateAvatar: true,
		GenerateVideo:  true,
		SourceIsPDF:    true,
	})
	if steps[StepGenerateAvatar].Status != StepSkipped {
		t.Error("avatar must be skipped for pdf sources")
	}

	steps = initialSteps(InitFields{
		VoiceLanguage:  SourceLanguage,
		GenerateAvatar: true,
		GenerateVideo:  true,
	})
	if steps[StepGenerateAvatar].Status != StepPending {
		t.Error("avatar should be pending on slides with the flag set")
	}
}

func TestInitialStepsPodcast(t *testing.T) {
	steps := initialSteps(InitFields{
		VoiceLanguage:             SourceLanguage,
		GeneratePodcast:           true,
		GenerateSubtitles:         true,
		PodcastTranscriptLanguage: "spanish",
		SourceIsPDF:               true,
	})

	for _, id := range []string{
		StepGeneratePodcastScript,
		StepTranslatePodcastScript,
		StepGeneratePodcastAudio,
		StepGeneratePodcastSubtitles,
		StepComposePodcast,
	} {
		if steps[id].Status != StepPending {
			t.Errorf("%s should be pending for a podcast run, got %s", id, steps[id].Status)
		}
	}

	// compose_video skipped without the flag.
	if steps[StepComposeVideo].Status != StepSkipped {
		t.Error("compose_video should be skipped when generate_video is false")
	}
}

func TestStepDataOnlyWhenCompleted(t *testing.T) {
	doc := &FileState{Steps: map[string]*StepState{
		StepAnalyzeSlides: {Status: StepProcessing, Data: map[string]interface{}{"n": 3.0}},
		StepSegmentPDF:    {Status: StepCompleted, Data: map[string]interface{}{"chapters": 4.0}},
	}}

	if _, ok := doc.StepData(StepAnalyzeSlides); ok {
		t.Error("processing step data must read as absent")
	}
	data, ok := doc.StepData(StepSegmentPDF)
	if !ok || data["chapters"] != 4.0 {
		t.Errorf("completed step data missing: %v %v", data, ok)
	}
	if _, ok := doc.StepData("nope"); ok {
		t.Error("unknown step data must read as absent")
	}
}

func TestProcessingStep(t *testing.T) {
	doc := &FileState{Steps: map[string]*StepState{
		StepExtractSlides: {Status: StepCompleted},
		StepConvertSlides: {Status: StepProcessing},
	}}
	if got := doc.ProcessingStep(); got != StepConvertSlides {
		t.Errorf("ProcessingStep = %q", got)
	}

	doc.Steps[StepConvertSlides].Status = StepCompleted
	if got := doc.ProcessingStep(); got != "" {
		t.Errorf("Expected no processing step, got %q", got)
	}
}

func TestTranslationPredicates(t *testing.T) {
	fr := "french"
	en := SourceLanguage
	cases := []struct {
		doc             FileState
		voice, sub, pod bool
	}{
		{FileState{VoiceLanguage: "english"}, false, false, false},
		{FileState{VoiceLanguage: "spanish"}, true, false, false},
		{FileState{SubtitleLanguage: &fr}, false, true, false},
		{FileState{SubtitleLanguage: &en}, false, false, false},
		{FileState{PodcastTranscriptLanguage: "spanish"}, false, false, true},
	}
	for i, c := range cases {
		if got := c.doc.NeedsVoiceTranslation(); got != c.voice {
			t.Errorf("case %d voice = %v", i, got)
		}
		if got := c.doc.NeedsSubtitleTranslation(); got != c.sub {
			t.Errorf("case %d subtitles = %v", i, got)
		}
		if got := c.doc.NeedsPodcastTranslation(); got != c.pod {
			t.Errorf("case %d podcast = %v", i, got)
		}
	}
}

func TestSubtitleLocale(t *testing.T) {
	fr := "french"
	doc := FileState{SubtitleLanguage: &fr}
	if doc.SubtitleLocale() != "french" {
		t.Errorf("locale = %s", doc.SubtitleLocale())
	}
	doc = FileState{}
	if doc.SubtitleLocale() != SourceLanguage {
		t.Errorf("default locale = %s", doc.SubtitleLocale())
	}
}

func TestFirstStep(t *testing.T) {
	if FirstStep(true) != StepSegmentPDF {
		t.Error("pdf first step")
	}
	if FirstStep(false) != StepExtractSlides {
		t.Error("slides first step")
	}
}

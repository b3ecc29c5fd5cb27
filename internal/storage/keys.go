package storage

import "fmt"

// Canonical artifact keys. Earlier deployments wrote flat names; the
// *Candidates helpers list every spelling newest-first so readers can fall
// back to objects written before the layout settled.

// VideoKey is the canonical key for a task's final video.
func VideoKey(taskID string) string {
	return fmt.Sprintf("outputs/%s/video/final.mp4", taskID)
}

// AudioKey is the canonical key for a task's final narration audio.
func AudioKey(taskID string) string {
	return fmt.Sprintf("outputs/%s/audio/final.mp3", taskID)
}

// PodcastKey is the canonical key for a task's final podcast audio.
func PodcastKey(taskID string) string {
	return fmt.Sprintf("outputs/%s/podcast/final.mp3", taskID)
}

// SubtitleKey is the canonical key for one subtitle track. format is "srt"
// or "vtt".
func SubtitleKey(taskID, locale, format string) string {
	return fmt.Sprintf("outputs/%s/subtitles/%s_%s.%s", taskID, taskID, locale, format)
}

// PodcastSubtitleKey is the canonical key for a podcast subtitle track. It
// stays distinct from the video track so one task can carry both.
func PodcastSubtitleKey(taskID, locale, format string) string {
	return fmt.Sprintf("outputs/%s/subtitles/%s_podcast_%s.%s", taskID, taskID, locale, format)
}

// TaskPrefix is the key prefix under which every canonical artifact of a
// task lives. Purge deletes this prefix.
func TaskPrefix(taskID string) string {
	return fmt.Sprintf("outputs/%s/", taskID)
}

// VideoCandidates lists video keys newest-first, including legacy flat
// spellings.
func VideoCandidates(taskID, fileID string) []string {
	return []string{
		VideoKey(taskID),
		fmt.Sprintf("%s.mp4", taskID),
		fmt.Sprintf("%s_final.mp4", fileID),
	}
}

// AudioCandidates lists narration audio keys newest-first.
func AudioCandidates(taskID, fileID string) []string {
	return []string{
		AudioKey(taskID),
		fmt.Sprintf("%s_final.mp3", fileID),
	}
}

// PodcastCandidates lists podcast keys newest-first.
func PodcastCandidates(taskID, fileID string) []string {
	return []string{
		PodcastKey(taskID),
		fmt.Sprintf("%s_podcast.mp3", taskID),
		fmt.Sprintf("%s.mp3", taskID),
		fmt.Sprintf("%s_final.mp3", fileID),
	}
}

// SubtitleCandidates lists subtitle keys newest-first for one locale and
// format.
func SubtitleCandidates(taskID, fileID, locale, format string) []string {
	return []string{
		SubtitleKey(taskID, locale, format),
		fmt.Sprintf("%s_%s.%s", taskID, locale, format),
		fmt.Sprintf("%s_%s.%s", fileID, locale, format),
		fmt.Sprintf("%s_final.%s", fileID, format),
	}
}

// LegacyTaskKeys lists the flat spellings a purge must also remove, since
// they live outside TaskPrefix.
func LegacyTaskKeys(taskID, fileID string) []string {
	keys := []string{
		fmt.Sprintf("%s.mp4", taskID),
		fmt.Sprintf("%s.mp3", taskID),
		fmt.Sprintf("%s_podcast.mp3", taskID),
	}
	if fileID != "" {
		for _, format := range []string{"mp4", "mp3", "srt", "vtt"} {
			keys = append(keys, fmt.Sprintf("%s_final.%s", fileID, format))
		}
	}
	return keys
}

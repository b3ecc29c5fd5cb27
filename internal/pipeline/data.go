package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step data is persisted as JSON inside the state document, so values read
// back as interface{}. These helpers coerce the shapes the steps exchange.

// Chapter is one unit of PDF content: a heading plus the prose under it.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DialogueLine is one podcast utterance.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AudioSegment pairs a rendered clip with its measured duration.
type AudioSegment struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

func dataString(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func dataStrings(data map[string]interface{}, key string) []string {
	if data == nil {
		return nil
	}
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// dataAs remarshals part of a data map into a typed slice or struct.
func dataAs(data map[string]interface{}, key string, out interface{}) error {
	if data == nil {
		return fmt.Errorf("missing %s", key)
	}
	raw, ok := data[key]
	if !ok {
		return fmt.Errorf("missing %s", key)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encode %s: %w", key, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func dataChapters(data map[string]interface{}) ([]Chapter, error) {
	var chapters []Chapter
	if err := dataAs(data, "chapters", &chapters); err != nil {
		return nil, err
	}
	return chapters, nil
}

func dataDialogue(data map[string]interface{}) ([]DialogueLine, error) {
	var lines []DialogueLine
	if err := dataAs(data, "lines", &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func dataAudioSegments(data map[string]interface{}) ([]AudioSegment, error) {
	var segs []AudioSegment
	if err := dataAs(data, "segments", &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// decodeModelJSON parses a JSON object out of a chat completion, tolerating
// markdown code fences around the payload.
func decodeModelJSON(raw string, out interface{}) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Some models wrap the object in prose; cut to the outermost braces.
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexAny(s, "{[")
		if start < 0 {
			return fmt.Errorf("no JSON in model output")
		}
		s = s[start:]
		if end := strings.LastIndexAny(s, "}]"); end >= 0 {
			s = s[:end+1]
		}
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	return nil
}

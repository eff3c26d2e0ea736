package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNotes caps the length of the notes field, in characters.
const MaxNotes = 240

var fence = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ExtractJSON pulls a JSON object out of free model text. It accepts a bare
// object, then the first fenced block, then the span from the first '{' to
// the last '}'. It returns "" when none apply.
func ExtractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if m := fence.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return ""
}

// ParseResult extracts and clamps the analysis result from model text.
func ParseResult(text string) (Result, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return Result{}, ErrNoStructuredResult
	}

	var body struct {
		Reps       any `json:"reps"`
		Confidence any `json:"confidence"`
		Notes      any `json:"notes"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoStructuredResult, err)
	}

	return Result{
		Reps:       clampReps(body.Reps),
		Confidence: clampConfidence(body.Confidence),
		Notes:      clampNotes(body.Notes),
	}, nil
}

func clampReps(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Floor(f)
	if f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func clampConfidence(v any) Confidence {
	s, _ := v.(string)
	switch c := Confidence(s); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c
	}
	return ConfidenceLow
}

func clampNotes(v any) string {
	var s string
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		s = n
	default:
		s = fmt.Sprint(n)
	}
	if utf8.RuneCountInString(s) <= MaxNotes {
		return s
	}
	r := []rune(s)
	return string(r[:MaxNotes])
}

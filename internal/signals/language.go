package signals

import (
	"regexp"
	"strings"

	"github.com/pemistahl/lingua-go"
)

var linkPattern = regexp.MustCompile(`\S+\.\S+/\S*|@\S+|#\S+`)

// LinguaDetector tags mention text with the language it is written in.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector limited to the languages mentions
// realistically arrive in.
func NewLinguaDetector() *LinguaDetector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English, lingua.Spanish, lingua.French, lingua.German,
			lingua.Portuguese, lingua.Italian, lingua.Dutch, lingua.Japanese,
		).
		WithMinimumRelativeDistance(0.25).
		Build()
	return &LinguaDetector{detector: detector}
}

// Detect returns a lowercase ISO 639-1 code, or "" when the text is too
// short or ambiguous.
func (d *LinguaDetector) Detect(text string) string {
	cleaned := strings.TrimSpace(linkPattern.ReplaceAllString(text, " "))
	if len([]rune(cleaned)) < 12 {
		return ""
	}
	lang, ok := d.detector.DetectLanguageOf(cleaned)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

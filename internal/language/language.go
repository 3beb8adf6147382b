// Package language wraps language identification behind a small interface.
package language

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// Undetermined is returned when no language can be identified.
const Undetermined = "und"

// DefaultSampleChars is how much text is inspected by Resolve.
const DefaultSampleChars = 1000

// Detector identifies the language of a text sample.
type Detector interface {
	// Detect returns a lowercase ISO 639-1 code, or false when detection fails.
	Detect(text string) (string, bool)
}

// Config controls the lingua detector.
type Config struct {
	// Languages restricts detection to these ISO 639-1 codes. Fewer than two
	// valid codes means all languages.
	Languages           []string
	MinRelativeDistance float64
}

// LinguaDetector implements Detector using lingua-go.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLingua builds a lingua-backed detector. Building loads language models
// lazily, so construction is cheap.
func NewLingua(cfg Config) *LinguaDetector {
	builder := lingua.NewLanguageDetectorBuilder()
	var langs []lingua.Language
	for _, code := range cfg.Languages {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(strings.TrimSpace(code)))
		lang := lingua.GetLanguageFromIsoCode639_1(iso)
		if lang != lingua.Unknown {
			langs = append(langs, lang)
		}
	}
	var withLangs lingua.LanguageDetectorBuilder
	if len(langs) >= 2 {
		withLangs = builder.FromLanguages(langs...)
	} else {
		withLangs = builder.FromAllLanguages()
	}
	if cfg.MinRelativeDistance > 0 && cfg.MinRelativeDistance < 0.99 {
		withLangs = withLangs.WithMinimumRelativeDistance(cfg.MinRelativeDistance)
	}
	return &LinguaDetector{detector: withLangs.Build()}
}

// Detect returns the most likely language of text.
func (d *LinguaDetector) Detect(text string) (string, bool) {
	if d == nil || d.detector == nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok || lang == lingua.Unknown {
		return "", false
	}
	code := strings.ToLower(lang.IsoCode639_1().String())
	if code == "" || code == "unknown" {
		return "", false
	}
	return code, true
}

// Resolve runs d over the first limit characters of text and always returns a
// terminal value: the detected code or Undetermined.
func Resolve(d Detector, text string, limit int) string {
	if d == nil {
		return Undetermined
	}
	if limit <= 0 {
		limit = DefaultSampleChars
	}
	code, ok := d.Detect(Truncate(text, limit))
	if !ok {
		return Undetermined
	}
	return Normalize(code)
}

// Normalize lowercases a language tag and keeps its primary subtag,
// e.g. "en-US" becomes "en". Empty input yields "".
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if primary, _, ok := strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-"); ok {
		tag = primary
	}
	return tag
}

// Truncate returns at most limit characters (runes) of text.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}

// Package language includes tests for detection helpers.
package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubDetector struct {
	code   string
	ok     bool
	sample string
}

func (s *stubDetector) Detect(text string) (string, bool) {
	s.sample = text
	return s.code, s.ok
}

func TestResolveTruncatesSample(t *testing.T) {
	t.Parallel()

	d := &stubDetector{code: "EN", ok: true}
	text := ""
	for i := 0; i < 1500; i++ {
		text += "é"
	}
	got := Resolve(d, text, DefaultSampleChars)
	assert.Equal(t, "en", got)
	assert.Len(t, []rune(d.sample), DefaultSampleChars)
}

func TestResolveFailureIsUndetermined(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Undetermined, Resolve(&stubDetector{ok: false}, "text", 10))
	assert.Equal(t, Undetermined, Resolve(nil, "text", 10))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"en":      "en",
		" EN-us ": "en",
		"pt_BR":   "pt",
		"":        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}

func TestLinguaDetectsEnglishAndFrench(t *testing.T) {
	t.Parallel()

	d := NewLingua(Config{Languages: []string{"en", "fr", "de"}})
	code, ok := d.Detect("The quick brown fox jumps over the lazy dog while the farmer watches from the porch.")
	assert.True(t, ok)
	assert.Equal(t, "en", code)

	code, ok = d.Detect("Le renard brun rapide saute par-dessus le chien paresseux pendant que le fermier regarde.")
	assert.True(t, ok)
	assert.Equal(t, "fr", code)

	_, ok = d.Detect("   ")
	assert.False(t, ok)
}

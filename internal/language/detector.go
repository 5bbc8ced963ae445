package language

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Default is reported when the text is empty or no language is detected.
const Default = "en"

// Languages the monitored outlets publish in.
var supported = []lingua.Language{
	lingua.English, lingua.Persian, lingua.Arabic, lingua.French,
	lingua.German, lingua.Spanish, lingua.Russian, lingua.Turkish,
	lingua.Hebrew, lingua.Urdu, lingua.Chinese, lingua.Hindi,
}

type Detector struct {
	detector lingua.LanguageDetector
}

func NewDetector() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(supported...).
			WithPreloadedLanguageModels().
			Build(),
	}
}

// Detect returns the lowercase ISO 639-1 code of text's language.
func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Default
	}

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return Default
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

package language

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

var detector = NewDetector()

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "   ", Default},
		{"english", "The foreign ministry said negotiations over the nuclear programme would continue next week in Vienna.", "en"},
		{"french", "Le ministère des affaires étrangères a déclaré que les négociations reprendraient la semaine prochaine.", "fr"},
		{"persian", "وزارت امور خارجه اعلام کرد که مذاکرات هفته آینده در وین ادامه خواهد یافت.", "fa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detector.Detect(tt.text))
		})
	}
}

package language_test

import (
	"testing"

	"github.com/MrWong99/lexi/internal/language"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantCode string
		wantOK   bool
	}{
		{"Spanish", "es", true},
		{"  spanish ", "es", true},
		{"es", "es", true},
		{"Español", "es", true},
		{"Deutsch", "de", true},
		{"Frnech", "fr", true},
		{"Portugese", "pt", true},
		{"Japanese", "ja", true},
		{"Klingon", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := language.Resolve(tt.in)
			if ok != tt.wantOK || got.Code != tt.wantCode {
				t.Errorf("Resolve(%q): want %q/%t, got %q/%t", tt.in, tt.wantCode, tt.wantOK, got.Code, ok)
			}
		})
	}
}

func TestCodeAndCanonical(t *testing.T) {
	t.Parallel()

	if got := language.Code("Klingon"); got != "en" {
		t.Errorf("want fallback en, got %q", got)
	}
	if got := language.Code("italiano"); got != "it" {
		t.Errorf("want it, got %q", got)
	}
	if got := language.Canonical("français"); got != "French" {
		t.Errorf("want French, got %q", got)
	}
	if got := language.Canonical(" Klingon "); got != "Klingon" {
		t.Errorf("want unknown name unchanged, got %q", got)
	}
	if n := len(language.Supported()); n != 12 {
		t.Errorf("want 12 supported languages, got %d", n)
	}
}

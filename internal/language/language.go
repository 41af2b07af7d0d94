// Package language maps the human language names candidates and operators
// type ("Spanish", "español", "spansh") to the ISO 639-1 codes speech
// providers expect.
//
// Lookup is exact on the canonical name, the code and a few native names
// first. Otherwise the closest known name wins when it is phonetically
// compatible (Double Metaphone overlap) and similar enough by Jaro-Winkler.
package language

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// English is the language reading-phase translations are given in.
var English = Language{Name: "English", Code: "en"}

// Language is a supported assessment language.
type Language struct {
	Name string
	Code string
}

type entry struct {
	Language
	aliases []string
}

var known = []entry{
	{Language{"Spanish", "es"}, []string{"español", "espanol", "castellano"}},
	{Language{"French", "fr"}, []string{"français", "francais"}},
	{Language{"German", "de"}, []string{"deutsch"}},
	{Language{"Italian", "it"}, []string{"italiano"}},
	{Language{"Portuguese", "pt"}, []string{"português", "portugues"}},
	{Language{"Chinese", "zh"}, []string{"mandarin", "中文"}},
	{Language{"Japanese", "ja"}, []string{"日本語", "nihongo"}},
	{Language{"Korean", "ko"}, []string{"한국어", "hangugeo"}},
	{English, nil},
	{Language{"Arabic", "ar"}, []string{"العربية"}},
	{Language{"Russian", "ru"}, []string{"русский", "russkiy"}},
	{Language{"Hindi", "hi"}, []string{"हिन्दी"}},
}

const (
	phoneticThreshold = 0.80
	fuzzyThreshold    = 0.90
)

// Supported lists every known language in a stable order.
func Supported() []Language {
	out := make([]Language, len(known))
	for i, e := range known {
		out[i] = e.Language
	}
	return out
}

// Resolve finds the language named by name. ok is false when nothing is
// close enough.
func Resolve(name string) (lang Language, ok bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return Language{}, false
	}
	for _, e := range known {
		if q == strings.ToLower(e.Name) || q == e.Code {
			return e.Language, true
		}
		for _, a := range e.aliases {
			if q == a {
				return e.Language, true
			}
		}
	}

	var qp, qs string
	if isASCII(q) {
		qp, qs = matchr.DoubleMetaphone(q)
	}
	var best Language
	var bestScore float64
	for _, e := range known {
		for _, cand := range append([]string{strings.ToLower(e.Name)}, e.aliases...) {
			score := matchr.JaroWinkler(q, cand, false)
			threshold := fuzzyThreshold
			if qp != "" && isASCII(cand) {
				cp, cs := matchr.DoubleMetaphone(cand)
				if overlaps(qp, qs, cp, cs) {
					threshold = phoneticThreshold
				}
			}
			if score >= threshold && score > bestScore {
				best, bestScore = e.Language, score
			}
		}
	}
	return best, bestScore > 0
}

// Code returns the ISO code for name, falling back to English like the
// speech providers do for unknown languages.
func Code(name string) string {
	if l, ok := Resolve(name); ok {
		return l.Code
	}
	return English.Code
}

// Canonical returns the canonical English name for name, or name unchanged
// when it is unknown.
func Canonical(name string) string {
	if l, ok := Resolve(name); ok {
		return l.Name
	}
	return strings.TrimSpace(name)
}

func overlaps(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || a == bs {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

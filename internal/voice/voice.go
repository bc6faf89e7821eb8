// Package voice keeps the set of reference voices requests can be spoken in.
package voice

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Origin tells where a voice comes from.
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginCustom  Origin = "custom"
)

// Voice is a reference recording plus everything derived from it. Voices are
// never modified after a scan publishes them.
type Voice struct {
	ModTime   time.Time
	ID        string
	Name      string
	Language  string
	AudioPath string
	Text      string
	Origin    Origin
	Codes     []int32
	Size      int64
}

// HasReference reports whether the voice has a reference transcript.
func (v *Voice) HasReference() bool {
	return v.Text != ""
}

// Builtin reports whether the voice ships with the service.
func (v *Voice) Builtin() bool {
	return v.Origin == OriginBuiltin
}

// sameFile reports whether other was scanned from the same unchanged file.
func (v *Voice) sameFile(other *Voice) bool {
	return v.AudioPath == other.AudioPath &&
		v.Size == other.Size &&
		v.ModTime.Equal(other.ModTime)
}

// displayName builds the human readable voice name, e.g.
// "German Greta (built-in)" or "Custom voice: anna".
func displayName(id string, origin Origin, lang string) string {
	if origin == OriginCustom {
		return "Custom voice: " + id
	}

	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}

	title := cases.Title(tag).String(strings.ReplaceAll(id, "_", " "))

	name := display.English.Languages().Name(tag)
	if name == "" || tag == language.Und {
		return title + " (built-in)"
	}

	return name + " " + title + " (built-in)"
}

// Package display derives the user-facing label of a save state.
package display

import (
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/deltaemu/savestated/internal/models"
)

// Short date + short time layouts per supported locale.
var layouts = []struct {
	tag    language.Tag
	layout string
}{
	{language.AmericanEnglish, "1/2/06, 3:04 PM"},
	{language.BritishEnglish, "02/01/2006, 15:04"},
	{language.German, "02.01.06, 15:04"},
	{language.French, "02/01/2006 15:04"},
	{language.Spanish, "2/1/06, 15:04"},
	{language.Italian, "02/01/06, 15:04"},
	{language.BrazilianPortuguese, "02/01/2006, 15:04"},
	{language.Dutch, "02-01-2006, 15:04"},
	{language.Japanese, "2006/01/02 15:04"},
	{language.Korean, "06. 1. 2. 15:04"},
	{language.SimplifiedChinese, "2006/1/2 15:04"},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(layouts))
	for i, l := range layouts {
		tags[i] = l.tag
	}
	return language.NewMatcher(tags)
}()

// Layout returns the short date/time layout that best matches tag. Unknown
// locales fall back to American English.
func Layout(tag language.Tag) string {
	_, i, conf := matcher.Match(tag)
	if conf == language.No {
		return layouts[0].layout
	}
	return layouts[i].layout
}

// ParseAcceptLanguage picks the preferred tag from an Accept-Language header.
func ParseAcceptLanguage(header string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return language.AmericanEnglish
	}
	_, i, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.AmericanEnglish
	}
	return layouts[i].tag
}

// Label is the record's name when it has one, otherwise its modified date
// formatted for tag in loc.
func Label(rec models.SaveState, tag language.Tag, loc *time.Location) string {
	if rec.HasName() {
		return strings.TrimSpace(*rec.Name)
	}
	if loc == nil {
		loc = time.Local
	}
	return rec.ModifiedDate.In(loc).Format(Layout(tag))
}

// Views decorates records with their labels.
func Views(recs []models.SaveState, tag language.Tag, loc *time.Location) []models.SaveStateView {
	out := make([]models.SaveStateView, len(recs))
	for i, rec := range recs {
		out[i] = models.SaveStateView{SaveState: rec, Label: Label(rec, tag, loc)}
	}
	return out
}

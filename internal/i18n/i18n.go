// Package i18n resolves the client locale and the localized strings the
// sync engine writes into records, such as the default location name.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"golang.org/x/text/unicode/norm"
)

// DefaultLocationKey is the message key of the default location name.
const DefaultLocationKey = "At home"

// Supported lists the locales the client ships translations for. The
// first entry is the fallback.
var Supported = []language.Tag{
	language.English,
	language.German,
	language.Spanish,
	language.French,
	language.Italian,
	language.Russian,
}

var (
	matcher = language.NewMatcher(Supported)
	cat     = newCatalog()
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	names := map[language.Tag]string{
		language.English: "At home",
		language.German:  "Zu Hause",
		language.Spanish: "En casa",
		language.French:  "À la maison",
		language.Italian: "A casa",
		language.Russian: "Дома",
	}

	for tag, name := range names {
		// SetString only fails on malformed tags or messages.
		_ = b.SetString(tag, DefaultLocationKey, name)
	}

	return b
}

// Match returns the supported locale closest to the given BCP 47 locale
// string. Unknown or malformed input falls back to English.
func Match(locale string) language.Tag {
	tag, _ := language.MatchStrings(matcher, locale)
	base, _ := tag.Base()

	for _, s := range Supported {
		if b, _ := s.Base(); b == base {
			return s
		}
	}

	return language.English
}

// LocaleID returns the two letter id stored in the localeId setting.
func LocaleID(locale string) string {
	base, _ := Match(locale).Base()
	return base.String()
}

// DefaultLocationName returns the name of the default location in the
// given locale.
func DefaultLocationName(locale string) string {
	p := message.NewPrinter(Match(locale), message.Catalog(cat))
	return p.Sprintf(DefaultLocationKey)
}

// SameName reports whether two record names are equal once surrounding
// space is trimmed and both are in Unicode NFC form.
func SameName(a, b string) bool {
	return norm.NFC.String(strings.TrimSpace(a)) == norm.NFC.String(strings.TrimSpace(b))
}

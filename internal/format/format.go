package format

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	portuguese = language.Portuguese
	english    = language.English
	matcher    = language.NewMatcher([]language.Tag{language.BrazilianPortuguese, language.English})
)

var shortMonths = map[language.Base][12]string{
	base(portuguese): {"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"},
	base(english):    {"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
}

func base(tag language.Tag) language.Base {
	b, _ := tag.Base()
	return b
}

// Tag matches lang against the supported locales, defaulting to pt-BR.
func Tag(lang string) language.Tag {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return language.BrazilianPortuguese
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.BrazilianPortuguese
	}
	_, idx, _ := matcher.Match(tag)
	if idx == 1 {
		return language.English
	}
	return language.BrazilianPortuguese
}

// FmtDate formats t as "dd MMM yyyy" with localized month abbreviations,
// e.g. "25 mar 2021" for pt-BR.
func FmtDate(t time.Time, lang string) string {
	if t.IsZero() {
		return ""
	}
	months, ok := shortMonths[base(Tag(lang))]
	if !ok {
		months = shortMonths[base(portuguese)]
	}
	return t.Format("02") + " " + months[t.Month()-1] + " " + t.Format("2006")
}

// FmtMinutes renders a reading time such as "4 min".
func FmtMinutes(minutes int, lang string) string {
	return message.NewPrinter(Tag(lang)).Sprintf("%d min", minutes)
}

// FmtISO renders t for machine readable attributes (datetime, JSON-LD).
func FmtISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

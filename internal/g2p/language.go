package g2p

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownLanguage = errors.New("unknown language")

// Language pairs the display name used by callers with the phonemizer code.
type Language struct {
	Name string
	Code string
}

var (
	AmericanEnglish     = Language{Name: "American English", Code: "en-us"}
	BritishEnglish      = Language{Name: "British English", Code: "en-gb"}
	Japanese            = Language{Name: "Japanese", Code: "ja"}
	French              = Language{Name: "French", Code: "fr-fr"}
	Spanish             = Language{Name: "Spanish", Code: "es"}
	Italian             = Language{Name: "Italian", Code: "it"}
	Hindi               = Language{Name: "Hindi", Code: "hi"}
	BrazilianPortuguese = Language{Name: "Brazilian Portuguese", Code: "pt-br"}
	MandarinChinese     = Language{Name: "Mandarin Chinese", Code: "zh"}
)

// Languages lists every supported language in display order.
var Languages = []Language{
	AmericanEnglish,
	BritishEnglish,
	Japanese,
	French,
	Spanish,
	Italian,
	Hindi,
	BrazilianPortuguese,
	MandarinChinese,
}

// ParseLanguage accepts a display name or a code, case-insensitively.
func ParseLanguage(value string) (Language, error) {
	v := strings.TrimSpace(value)
	for _, l := range Languages {
		if strings.EqualFold(v, l.Name) || strings.EqualFold(v, l.Code) {
			return l, nil
		}
	}
	return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, value)
}

func (l Language) IsEnglish() bool {
	return l == AmericanEnglish || l == BritishEnglish
}

func (l Language) String() string { return l.Name }

package textnorm

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token length bounds. Fragments shorter than two letters carry no signal
// and anything longer than fifteen is almost always noise (URLs, mashed
// words), so both are dropped before stemming.
const (
	minTokenLen = 2
	maxTokenLen = 15
)

var supportedLanguages = map[string]struct{}{
	"english":   {},
	"spanish":   {},
	"french":    {},
	"russian":   {},
	"swedish":   {},
	"norwegian": {},
	"hungarian": {},
}

// Normalizer turns raw message text into stemmed lowercase tokens. One
// instance is bound to a single language and shared by training and
// querying, so the vocabulary stays consistent across both.
type Normalizer struct {
	language string
	deaccent transform.Transformer
}

func New(language string) (*Normalizer, error) {
	clean := strings.ToLower(strings.TrimSpace(language))
	if _, ok := supportedLanguages[clean]; !ok {
		return nil, fmt.Errorf("unsupported stemming language %q", language)
	}
	return &Normalizer{
		language: clean,
		deaccent: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}, nil
}

func (n *Normalizer) Language() string {
	return n.language
}

// Tokens lowercases the text, strips accents and punctuation, splits it into
// alphabetic runs and stems each surviving token.
func (n *Normalizer) Tokens(text string) []string {
	deaccented, _, err := transform.String(n.deaccent, text)
	if err != nil {
		deaccented = text
	}
	lower := strings.ToLower(deaccented)

	var tokens []string
	var current []rune
	flush := func() {
		if len(current) >= minTokenLen && len(current) <= maxTokenLen {
			tokens = append(tokens, n.stem(string(current)))
		}
		current = current[:0]
	}
	for _, r := range lower {
		if unicode.IsLetter(r) {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func (n *Normalizer) stem(token string) string {
	stemmed, err := snowball.Stem(token, n.language, false)
	if err != nil || stemmed == "" {
		return token
	}
	return stemmed
}

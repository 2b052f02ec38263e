package edge

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const localeCookie = "NEXT_LOCALE"

// LocaleResolver picks the locale a page renders in.
type LocaleResolver struct {
	supported []string
	byLower   map[string]string
	matcher   language.Matcher
	fallback  string
}

// NewLocaleResolver builds a resolver over the supported locale tags. The fallback is
// returned when neither the cookie nor Accept-Language yield a supported locale.
func NewLocaleResolver(supported []string, fallback string) (*LocaleResolver, error) {
	if fallback == "" {
		fallback = "en"
	}
	if len(supported) == 0 {
		supported = []string{fallback}
	}
	tags := make([]language.Tag, 0, len(supported))
	byLower := make(map[string]string, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("edge: parse locale %q: %w", s, err)
		}
		tags = append(tags, tag)
		byLower[strings.ToLower(s)] = s
	}
	return &LocaleResolver{
		supported: supported,
		byLower:   byLower,
		matcher:   language.NewMatcher(tags),
		fallback:  fallback,
	}, nil
}

// Resolve returns the NEXT_LOCALE cookie when it names a supported locale, else the best
// Accept-Language match, else the fallback.
func (l *LocaleResolver) Resolve(s *State) string {
	if v, ok := s.Cookie(localeCookie); ok {
		if loc, ok := l.byLower[strings.ToLower(v)]; ok {
			return loc
		}
	}
	return l.FromAcceptLanguage(s.Header.Get("Accept-Language"))
}

// FromAcceptLanguage matches an Accept-Language header value against the supported locales.
func (l *LocaleResolver) FromAcceptLanguage(header string) string {
	if header == "" {
		return l.fallback
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return l.fallback
	}
	_, idx, conf := l.matcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(l.supported) {
		return l.fallback
	}
	return l.supported[idx]
}

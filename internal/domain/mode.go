package domain

import (
	"fmt"
	"strings"
)

// Mode определяет длину истории и форму вклада.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeEpic     Mode = "epic"
	ModeSentence Mode = "sentence"

	DefaultMode = ModeStandard
)

var modeWordLimits = map[Mode]int{
	ModeQuick:    25,
	ModeStandard: 75,
	ModeEpic:     150,
	ModeSentence: 20,
}

// ParseMode возвращает режим по имени. Пустая строка означает режим по умолчанию.
func ParseMode(raw string) (Mode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultMode, nil
	}
	m := Mode(raw)
	if _, ok := modeWordLimits[m]; !ok {
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfiguration, raw)
	}
	return m, nil
}

// MaxEntries returns the entry budget of the mode.
func (m Mode) MaxEntries() (int, error) {
	limit, ok := modeWordLimits[m]
	if !ok {
		return 0, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, string(m))
	}
	return limit, nil
}

// IsPremium отмечает режимы, доступные только по подписке.
func (m Mode) IsPremium() bool {
	return m == ModeEpic || m == ModeSentence
}

// Theme is a purely descriptive story setting.
type Theme string

const (
	ThemeRomance     Theme = "romance"
	ThemeAdventure   Theme = "adventure"
	ThemeComedy      Theme = "comedy"
	ThemeMystery     Theme = "mystery"
	ThemeFantasy     Theme = "fantasy"
	ThemeSciFi       Theme = "scifi"
	ThemeHorror      Theme = "horror"
	ThemeSliceOfLife Theme = "slice-of-life"

	DefaultTheme = ThemeRomance
)

var knownThemes = map[Theme]struct{}{
	ThemeRomance:     {},
	ThemeAdventure:   {},
	ThemeComedy:      {},
	ThemeMystery:     {},
	ThemeFantasy:     {},
	ThemeSciFi:       {},
	ThemeHorror:      {},
	ThemeSliceOfLife: {},
}

func ParseTheme(raw string) (Theme, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultTheme, nil
	}
	t := Theme(raw)
	if _, ok := knownThemes[t]; !ok {
		return "", fmt.Errorf("%w: unknown theme %q", ErrConfiguration, raw)
	}
	return t, nil
}

package sensor

import (
	"strings"

	"codeberg.org/mutker/simtemp/internal/errors"
)

// Mode selects the reading generator's waveform.
type Mode int

const (
	ModeNormal Mode = iota
	ModeNoisy
	ModeRamp
)

var modeNames = map[Mode]string{
	ModeNormal: "normal",
	ModeNoisy:  "noisy",
	ModeRamp:   "ramp",
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}

	return "unknown"
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}

	return 0, errors.New().WithData(errors.ErrInvalidMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, errors.New().WithData(errors.ErrInvalidMode, int(m))
	}

	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed

	return nil
}

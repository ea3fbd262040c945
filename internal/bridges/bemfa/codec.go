package bemfa

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Wire tokens shared by every device class.
const (
	Separator = "#"
	TokenOn   = "on"
	TokenOff  = "off"
)

// fields splits a payload. An empty payload yields no fields.
func fields(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, Separator)
}

// field returns fields[i], or "" when it is absent.
func field(parts []string, i int) (string, bool) {
	if i < 0 || i >= len(parts) {
		return "", false
	}
	return parts[i], true
}

// isOn reports whether the power token is "on", ignoring case and padding.
func isOn(parts []string) bool {
	tok, ok := field(parts, 0)
	return ok && strings.EqualFold(strings.TrimSpace(tok), TokenOn)
}

// parseInt parses field i as a base-10 integer.
func parseInt(parts []string, i int) (int, bool) {
	s, ok := field(parts, i)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseFloat parses field i as a finite float.
func parseFloat(parts []string, i int) (float64, bool) {
	s, ok := field(parts, i)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// join assembles a payload from its fields.
func join(parts ...string) string {
	return strings.Join(parts, Separator)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidIntent, msg)
}

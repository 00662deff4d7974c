package audit

import (
	"errors"
	"fmt"
	"strings"
)

// IdentifierKind tags how a scanned code was recognised.
type IdentifierKind string

const (
	KindIMEI    IdentifierKind = "imei"
	KindSerial  IdentifierKind = "serial"
	KindUnknown IdentifierKind = "unknown"
)

// imeiLength is the digit count of a full IMEI.
const imeiLength = 15

// minSerialLength is the shortest alphanumeric tail accepted as a serial
// suffix. Anything shorter is rejected rather than silently dropped.
const minSerialLength = 4

// ErrInvalidCode reports a scanned string that normalised to nothing usable.
// Callers must surface it and must not record a scan event for it.
var ErrInvalidCode = errors.New("invalid code")

// Identifier is the typed result of normalising a raw scanned string.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

// NormalizeCode parses an arbitrary scanned string into a typed identifier.
// Separators are stripped; a 15-digit numeric string is an IMEI; a shorter
// alphanumeric tail of at least minSerialLength characters is treated as a
// serial suffix. Everything else fails closed with ErrInvalidCode.
func NormalizeCode(raw string) (Identifier, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	cleaned := b.String()

	if cleaned == "" {
		return Identifier{Kind: KindUnknown}, fmt.Errorf("%w: %q contains no alphanumeric characters", ErrInvalidCode, raw)
	}

	if len(cleaned) == imeiLength && isNumeric(cleaned) {
		return Identifier{Kind: KindIMEI, Value: cleaned}, nil
	}

	if len(cleaned) >= minSerialLength {
		return Identifier{Kind: KindSerial, Value: cleaned}, nil
	}

	return Identifier{Kind: KindUnknown}, fmt.Errorf("%w: %q is too short for a serial", ErrInvalidCode, raw)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

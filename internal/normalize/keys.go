package normalize

import (
	"strings"

	"github.com/locmaster/internal/location"
)

// KeyKind names one way of identifying a place. The values double as the
// match and grouping reasons reported to callers.
type KeyKind string

const (
	KeyPlaceID        KeyKind = "place_id"
	KeyAddressFull    KeyKind = "address_full"
	KeyAddressNoZip   KeyKind = "address_no_zip"
	KeyAddressMinimal KeyKind = "address_minimal"
)

// keySep cannot appear in trimmed address text
const keySep = "\x1f"

// RecordKey builds the comparison key of the given kind. Values are
// lower-cased and trimmed. ok is false when the record has nothing to compare
// on this axis: no place_id for KeyPlaceID, no address1 for the address keys.
func RecordKey(kind KeyKind, rec location.Record) (key string, ok bool) {
	if kind == KeyPlaceID {
		key = keyPart(rec.PlaceID)
		return key, key != ""
	}

	if keyPart(rec.Address1) == "" {
		return "", false
	}

	var parts []string
	switch kind {
	case KeyAddressFull:
		parts = []string{rec.Address1, rec.City, rec.State, rec.Zip, rec.Country}
	case KeyAddressNoZip:
		parts = []string{rec.Address1, rec.City, rec.State, rec.Country}
	case KeyAddressMinimal:
		parts = []string{rec.Address1, rec.State, rec.Country}
	default:
		return "", false
	}

	for i, p := range parts {
		parts[i] = keyPart(p)
	}
	return strings.Join(parts, keySep), true
}

func keyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

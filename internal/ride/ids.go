package ride

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	seedPrefix   = "ride_"
	suffixLength = 9
	ledgerIDHex  = 64
)

// ErrRideIDTooLong is returned when a seed has more hex digits than fit in
// a 32-byte ledger id.
var ErrRideIDTooLong = errors.New("ride id does not fit in 32 bytes")

// NewRideID returns a seed of the form ride_<unix-ms>_<9 random hex chars>.
func NewRideID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
	return fmt.Sprintf("%s%d_%s", seedPrefix, now.UnixMilli(), suffix)
}

// LedgerID derives the 32-byte ledger identifier of a seed: every non-hex
// character is removed, the rest lowercased and left-padded with zeros to
// 64 digits. The result is a pure function of the seed.
func LedgerID(seed string) (string, error) {
	var b strings.Builder
	b.Grow(ledgerIDHex)
	for _, r := range strings.ToLower(seed) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) > ledgerIDHex {
		return "", fmt.Errorf("%w: %d hex digits", ErrRideIDTooLong, len(digits))
	}
	return "0x" + strings.Repeat("0", ledgerIDHex-len(digits)) + digits, nil
}

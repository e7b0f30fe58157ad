package xrpl

import (
	"strconv"
	"strings"
	"time"
)

// RippleEpochOffset is the number of seconds between the Unix epoch and the
// ledger epoch (2000-01-01T00:00:00Z).
const RippleEpochOffset = 946684800

// DropsPerUnit is the number of indivisible base units in one unit of the
// ledger's native currency.
const DropsPerUnit = 1_000_000

// ToLedgerTime converts a calendar timestamp to the ledger's native time
// representation (seconds since the year-2000 epoch).
func ToLedgerTime(t time.Time) uint32 {
	return uint32(t.Unix() - RippleEpochOffset)
}

// FromLedgerTime converts a ledger timestamp back to a calendar timestamp.
func FromLedgerTime(lt uint32) time.Time {
	return time.Unix(int64(lt)+RippleEpochOffset, 0).UTC()
}

// ToDrops converts a decimal amount of the native currency to its base-unit
// integer string. The fractional part beyond 6 decimal places is truncated.
// Conversion goes through the amount's decimal text rather than binary
// multiplication, which for values like 2.01 lands one drop short of the
// exact product. Callers must validate amount > 0 before conversion;
// ToDrops performs no bounds checking.
func ToDrops(amount float64) string {
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	whole, frac, _ := strings.Cut(text, ".")
	if len(frac) > 6 {
		frac = frac[:6]
	}
	frac += strings.Repeat("0", 6-len(frac))

	units, _ := strconv.ParseUint(whole, 10, 64)
	sub, _ := strconv.ParseUint(frac, 10, 64)
	return strconv.FormatUint(units*DropsPerUnit+sub, 10)
}

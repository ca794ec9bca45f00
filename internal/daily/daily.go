// Package daily derives the daily challenge from the calendar date.
// Every player who starts the daily challenge on the same UTC day gets the
// same start number, target and first round.
package daily

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Seed returns a deterministic PCG seed pair for a date using HMAC(salt, YYYY-MM-DD).
func Seed(date time.Time, salt string) (uint64, uint64) {
	return SeedForKey(DateKey(date), salt)
}

// SeedForKey is Seed for an already formatted date key.
func SeedForKey(dateKey, salt string) (uint64, uint64) {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(dateKey))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])
}

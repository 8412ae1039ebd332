package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// dateBucketDays collapses announcement dates that disagree by up to two days
// into the same identity bucket.
const dateBucketDays = 3

// MinSignificantAmountUSD is the floor below which no amount key is computed.
// Small and undisclosed rounds would over-collapse otherwise.
const MinSignificantAmountUSD = 500_000

// legalSuffixes is ordered longest/most specific first; exactly one matching
// suffix is stripped during normalization.
var legalSuffixes = []string{
	"incorporated",
	"corporation",
	"technologies",
	"technology",
	"limited",
	"holdings",
	"systems",
	"labs",
	"corp",
	"gmbh",
	"inc",
	"llc",
	"ltd",
	"lab",
	"plc",
	"co",
	"ai",
	"io",
}

// NormalizeName reduces a company name to a stable comparison form:
// lowercase, leading "the " removed, one legal/descriptive suffix removed,
// all non-alphanumerics removed. Total over any input, may return "".
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "the ")
	s = strings.Trim(s, " .,")

	for _, suffix := range legalSuffixes {
		if bare, ok := trimSuffixWord(s, suffix); ok {
			s = bare
			break
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// trimSuffixWord strips suffix when it appears as a trailing word, tolerating
// separating punctuation ("Acme Labs, Inc." -> "acme labs").
func trimSuffixWord(s, suffix string) (string, bool) {
	if !strings.HasSuffix(s, suffix) {
		return s, false
	}
	rest := s[:len(s)-len(suffix)]
	trimmed := strings.TrimRight(rest, " .,-")
	if trimmed == rest || rest == "" {
		// Suffix is not its own word (e.g. "semco" ending in "co").
		if rest != "" {
			return s, false
		}
	}
	return trimmed, true
}

// Key returns the primary dedup key for (name, category, date). Undated items
// bucket by the current month, which only catches concurrent-run duplicates.
func Key(name, category string, date *time.Time) string {
	return keyAt(name, category, date, time.Now().UTC())
}

// AdjacentKeys returns the keys one date bucket below and above the primary
// bucket. Lookup only; never stored as a record's own identity.
func AdjacentKeys(name, category string, date *time.Time) [2]string {
	return adjacentKeysAt(name, category, date, time.Now().UTC())
}

// AmountKey returns the company+amount+date key used to catch duplicates whose
// category labels disagree, or "" when amount is below MinSignificantAmountUSD.
func AmountKey(name string, amountUSD int64, date *time.Time) string {
	return amountKeyAt(name, amountUSD, date, time.Now().UTC())
}

func keyAt(name, category string, date *time.Time, now time.Time) string {
	return digest(NormalizeName(name), normalizeCategory(category), dateBucket(date, now))
}

func adjacentKeysAt(name, category string, date *time.Time, now time.Time) [2]string {
	n := NormalizeName(name)
	c := normalizeCategory(category)
	kind, bucket := dateBucketParts(date, now)
	return [2]string{
		digest(n, c, fmt.Sprintf("%s%d", kind, bucket-1)),
		digest(n, c, fmt.Sprintf("%s%d", kind, bucket+1)),
	}
}

func amountKeyAt(name string, amountUSD int64, date *time.Time, now time.Time) string {
	if amountUSD < MinSignificantAmountUSD {
		return ""
	}
	return digest(NormalizeName(name), fmt.Sprintf("amt%d", amountBucket(amountUSD)), dateBucket(date, now))
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// dateBucketParts returns a tag distinguishing dated from undated bucketing
// plus the bucket ordinal. Dated: unix-day / 3. Undated: months since year 0,
// from the clock, so only runs in the same month can collide.
func dateBucketParts(date *time.Time, now time.Time) (string, int64) {
	if date == nil {
		return "m", int64(now.Year())*12 + int64(now.Month()-1)
	}
	days := floorDiv(date.Unix(), 86400)
	return "d", floorDiv(days, dateBucketDays)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func dateBucket(date *time.Time, now time.Time) string {
	kind, bucket := dateBucketParts(date, now)
	return fmt.Sprintf("%s%d", kind, bucket)
}

// amountBucket maps an amount to an ordinal that widens with magnitude:
// $2M steps under $10M, $10M steps to $100M, $100M steps to $1B, then $1B steps.
func amountBucket(amountUSD int64) int64 {
	const (
		m   = 1_000_000
		b10 = 10 * m
		b1h = 100 * m
		b1b = 1000 * m
	)
	switch {
	case amountUSD < b10:
		return amountUSD / (2 * m)
	case amountUSD < b1h:
		return 5 + (amountUSD-b10)/b10
	case amountUSD < b1b:
		return 14 + (amountUSD-b1h)/b1h
	default:
		return 23 + (amountUSD-b1b)/b1b
	}
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

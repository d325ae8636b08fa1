package domain

import (
	"strings"
	"time"
)

const (
	ExpireNever = "never"
	Expire10m   = "10m"
	Expire1h    = "1h"
	Expire1d    = "1d"
	Expire1w    = "1w"
	Expire1mo   = "1month"
)

// A month is a fixed 30 days, not calendar arithmetic.
var expirationOffsets = map[string]time.Duration{
	Expire10m: 10 * time.Minute,
	Expire1h:  time.Hour,
	Expire1d:  24 * time.Hour,
	Expire1w:  7 * 24 * time.Hour,
	Expire1mo: 30 * 24 * time.Hour,
}

// ResolveExpiration maps a relative expiration token to an absolute instant.
// A nil result means the paste never expires; unknown tokens are treated as
// never rather than rejected.
func ResolveExpiration(token string, now time.Time) *time.Time {
	d, ok := expirationOffsets[strings.TrimSpace(token)]
	if !ok {
		return nil
	}
	at := now.Add(d)
	return &at
}

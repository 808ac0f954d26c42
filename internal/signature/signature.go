// Package signature implements the keyed-hash scheme that authenticates
// incoming payment webhooks.
//
// The canonical message is "{account_id}:{amount}:{transaction_id}:{user_id}"
// with the amount formatted to exactly two fractional digits. Field order and
// the ':' delimiter are part of the wire contract; changing either breaks all
// existing signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned by ParseAmount for input that is not a plain
// decimal with at most two fractional digits.
var ErrInvalidAmount = errors.New("invalid amount format")

// Sign computes the lowercase hex HMAC-SHA256 digest of the canonical message
// using the shared secret as key.
func Sign(accountID, amountCents int64, transactionID string, userID int64, secret string) string {
	msg := fmt.Sprintf("%d:%s:%s:%d", accountID, FormatAmount(amountCents), transactionID, userID)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected digest from the supplied fields and compares
// it against the received signature in constant time.
func Verify(accountID, amountCents int64, transactionID string, userID int64, secret, received string) bool {
	expected := Sign(accountID, amountCents, transactionID, userID, secret)
	return hmac.Equal([]byte(expected), []byte(received))
}

// FormatAmount renders cents as a fixed-point decimal string with exactly two
// fractional digits, e.g. 5000 -> "50.00". Both signing and API responses use
// this form so producer and verifier never disagree on formatting.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount parses a decimal string into cents. At most two fractional
// digits are accepted; exponent notation is rejected. Parsing never goes
// through a float, so "50", "50.0" and "50.00" all normalize to 5000.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if units > math.MaxInt64/100 {
		return 0, ErrInvalidAmount
	}
	cents := units * 100

	if frac != "" {
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || f < 0 {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			f *= 10
		}
		if cents > math.MaxInt64-f {
			return 0, ErrInvalidAmount
		}
		cents += f
	}

	if neg {
		cents = -cents
	}
	return cents, nil
}

// Package checkpoint computes and verifies the rotating verification codes a
// teacher broadcasts during a live session.
//
// Codes are HOTP values (RFC 4226) whose counter is the index of the current
// time window, so every caller holding the session secret agrees on the code
// for as long as the window lasts.
package checkpoint

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Digits is the fixed width of a generated code.
	Digits = 6

	// DefaultWindow is the number of steps accepted on each side of the current one.
	DefaultWindow = 1

	secretBytes = 20
)

var (
	encoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	modulo   = pow10(Digits)
)

// NewSecret returns a fresh random secret for a session.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	return encoding.EncodeToString(buf), nil
}

// Counter returns the time window index for now.
func Counter(stepSeconds int, now time.Time) int64 {
	return now.UnixMilli() / stepMillis(stepSeconds)
}

// Generate returns the code for the window containing now and the number of
// whole seconds (rounded up) until the window rolls over.
func Generate(secret string, stepSeconds int, now time.Time) (string, int) {
	step := stepMillis(stepSeconds)
	ms := now.UnixMilli()
	counter := ms / step

	remainingMs := step - (ms - counter*step)
	remaining := int((remainingMs + 999) / 1000)

	return hotp(secretKey(secret), counter), remaining
}

// Verify reports whether submitted matches the code of any window within
// window steps of the one containing now.
func Verify(secret string, stepSeconds int, submitted string, now time.Time, window int) bool {
	submitted = strings.TrimSpace(submitted)
	if len(submitted) != Digits {
		return false
	}
	if window < 0 {
		window = 0
	}

	key := secretKey(secret)
	current := Counter(stepSeconds, now)

	lo := current - int64(window)
	if lo < 0 {
		lo = 0
	}

	matched := 0
	for c := lo; c <= current+int64(window); c++ {
		matched |= subtle.ConstantTimeCompare([]byte(hotp(key, c)), []byte(submitted))
	}
	return matched == 1
}

func hotp(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", Digits, bin%modulo)
}

// secretKey decodes a base32 secret; anything else is used as raw bytes.
func secretKey(secret string) []byte {
	normalized := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if key, err := encoding.DecodeString(normalized); err == nil && len(key) > 0 {
		return key
	}
	return []byte(secret)
}

func stepMillis(stepSeconds int) int64 {
	return int64(stepSeconds) * int64(time.Second/time.Millisecond)
}

func pow10(n int) uint32 {
	out := uint32(1)
	for i := 0; i < n; i++ {
		out *= 10
	}
	return out
}

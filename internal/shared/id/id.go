// Package id generates the identifiers this service hands out.
package id

import (
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Prefixes for different identifier kinds (Stripe-style)
const (
	PrefixOperation = "op"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)

	idempotencyNamespace = uuid.MustParse("6f1d7a52-2c1e-4d8a-9a43-5f0c2b7e9d11")
)

// NewULID returns a lexicographically sortable identifier for t.
func NewULID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewOperationID returns a prefixed, time-ordered operation handle id.
func NewOperationID(t time.Time) string {
	return FormatWithPrefix(PrefixOperation, NewULID(t))
}

// IdempotencyKey derives a stable key from the parts that identify one
// logical operation, so a retried request maps onto the same submission.
func IdempotencyKey(parts ...string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// FormatWithPrefix adds a prefix to an existing id.
func FormatWithPrefix(prefix, raw string) string {
	if raw == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", prefix, raw)
}

// ParsePrefixedID extracts the prefix and raw id from a prefixed id string.
func ParsePrefixedID(prefixedID string) (prefix, raw string, err error) {
	parts := strings.SplitN(prefixedID, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid prefixed ID format: %s", prefixedID)
	}
	return parts[0], parts[1], nil
}

// ValidateOperationID checks that s is an operation handle with a valid ULID body.
func ValidateOperationID(s string) error {
	prefix, raw, err := ParsePrefixedID(s)
	if err != nil {
		return err
	}
	if prefix != PrefixOperation {
		return fmt.Errorf("invalid prefix: expected %s, got %s", PrefixOperation, prefix)
	}
	if _, err := ulid.ParseStrict(raw); err != nil {
		return fmt.Errorf("invalid operation id %q: %w", s, err)
	}
	return nil
}

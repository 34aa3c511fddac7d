package id

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperationIDIsSortableAndValid(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewOperationID(t0)
	b := NewOperationID(t0.Add(time.Millisecond))

	require.NoError(t, ValidateOperationID(a))
	require.NoError(t, ValidateOperationID(b))
	assert.True(t, strings.HasPrefix(a, "op_"))
	assert.Less(t, a, b)
}

func TestValidateOperationIDRejects(t *testing.T) {
	for _, s := range []string{"", "op_", "op_not-a-ulid", "tx_01HQ3Z6V1J4S7KX0Y3T9P7W2QF", "nounderscore"} {
		assert.Error(t, ValidateOperationID(s), s)
	}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	a := IdempotencyKey("PURCHASE_LICENSE", "alice", "C1", "1")
	b := IdempotencyKey("PURCHASE_LICENSE", "alice", "C1", "1")
	c := IdempotencyKey("PURCHASE_LICENSE", "alice", "C1", "2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// part boundaries matter
	assert.NotEqual(t, IdempotencyKey("ab", "c"), IdempotencyKey("a", "bc"))
}

func FuzzParsePrefixedID(f *testing.F) {
	for _, seed := range []string{"op_01HQ3Z6V1J4S7KX0Y3T9P7W2QF", "", "nounderscore", "_lead", "trail_", "a_b_c", "中文_测试"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		if !utf8.ValidString(input) {
			return
		}
		prefix, raw, err := ParsePrefixedID(input)
		if err != nil {
			return
		}
		if FormatWithPrefix(prefix, raw) != input {
			t.Errorf("ParsePrefixedID(%q) = (%q, %q) does not round-trip", input, prefix, raw)
		}
	})
}

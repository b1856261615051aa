package value

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// One-character markers prefixed to string payloads.
const (
	StringMarker = "S"
	DateMarker   = "D"
	BinaryMarker = "B"
	BigIntMarker = "I"

	markerLen = 1
)

// Reserved keys of the reference scheme.
const (
	idKey     = "$id"
	refKey    = "$ref"
	valuesKey = "$values"
)

// maxSafeInt is the largest integer a script number holds exactly.
const maxSafeInt = 1<<53 - 1

// Char is a single character. It encodes as a one-character string rather
// than as an integer.
type Char rune

func markString(s string) Value {
	return StringValue(StringMarker + s)
}

func markDate(t time.Time) Value {
	return StringValue(DateMarker + t.Format(time.RFC3339Nano))
}

func markBigInt(s string) Value {
	return StringValue(BigIntMarker + s)
}

func intValue(i int64) Value {
	if i > maxSafeInt || i < -maxSafeInt {
		return markBigInt(strconv.FormatInt(i, 10))
	}
	return IntValue(i)
}

func uintValue(u uint64) Value {
	if u > maxSafeInt {
		return markBigInt(strconv.FormatUint(u, 10))
	}
	return IntValue(int64(u))
}

// unmarkString interprets a marked string payload. Unmarked strings are
// returned unchanged.
func unmarkString(s string) (any, error) {
	if len(s) < markerLen {
		return s, nil
	}
	payload := s[markerLen:]
	switch s[:markerLen] {
	case StringMarker:
		return payload, nil
	case DateMarker:
		t, err := time.Parse(time.RFC3339Nano, payload)
		if err != nil {
			return nil, fmt.Errorf("value: bad date %q: %w", payload, err)
		}
		return t, nil
	case BinaryMarker:
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("value: bad binary payload: %w", err)
		}
		return b, nil
	case BigIntMarker:
		return parseBigInt(payload)
	}
	return s, nil
}

// parseBigInt returns the narrowest of int, int64, uint64 and *big.Int that
// holds the decimal text.
func parseBigInt(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i >= math.MinInt && i <= math.MaxInt {
			return int(i), nil
		}
		return i, nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("value: bad integer %q", s)
	}
	return n, nil
}

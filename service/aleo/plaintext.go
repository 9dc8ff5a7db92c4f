package aleo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This file is the codec for the chain's textual plaintext encoding. Mapping
// values and record fields arrive as struct-like strings with typed numeric
// suffixes, e.g.
//
//	"{\n  borrowed_amount: 1000000u128,\n  collateral_token_id: 1field,\n  active: true\n}"
//
// All extraction of typed values from these payloads lives here so the domain
// readers never do their own string surgery.

var (
	uintRe    = regexp.MustCompile(`(\d+)\s*(?:u8|u16|u32|u64|u128)\b`)
	fieldRe   = regexp.MustCompile(`(\d+)\s*field\b`)
	cleanupRe = strings.NewReplacer(`\n`, " ", `\"`, " ", `"`, " ", "\n", " ")
)

// Uint extracts the first typed unsigned integer from payload.
// Returns false on absence, malformed input, or uint64 overflow; callers are
// expected to fail closed to a zero value.
func Uint(payload string) (uint64, bool) {
	m := uintRe.FindStringSubmatch(cleanupRe.Replace(payload))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StructUint extracts the typed unsigned integer bound to the named key inside
// a struct-like payload ("key: 1234u128").
func StructUint(payload, key string) (uint64, bool) {
	re, err := regexp.Compile(`(?:^|[^_0-9A-Za-z])` + regexp.QuoteMeta(key) + `\s*:\s*(\d+)\s*(?:u8|u16|u32|u64|u128)\b`)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(cleanupRe.Replace(payload))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StructBool extracts the boolean bound to the named key inside a struct-like
// payload ("active: true").
func StructBool(payload, key string) (bool, bool) {
	re, err := regexp.Compile(`(?:^|[^_0-9A-Za-z])` + regexp.QuoteMeta(key) + `\s*:\s*(true|false)\b`)
	if err != nil {
		return false, false
	}
	m := re.FindStringSubmatch(cleanupRe.Replace(payload))
	if m == nil {
		return false, false
	}
	return m[1] == "true", true
}

// StructFieldID extracts the field element bound to the named key inside a
// struct-like payload ("token_id: 1field"), normalized to "<n>field".
func StructFieldID(payload, key string) (string, bool) {
	re, err := regexp.Compile(`(?:^|[^_0-9A-Za-z])` + regexp.QuoteMeta(key) + `\s*:\s*(\d+)\s*field\b`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(cleanupRe.Replace(payload))
	if m == nil {
		return "", false
	}
	return m[1] + "field", true
}

// NormalizeFieldID normalizes a standalone field element literal ("1field",
// "1field.private", " 1field ") to the canonical "<n>field" form.
func NormalizeFieldID(raw string) (string, bool) {
	m := fieldRe.FindStringSubmatch(cleanupRe.Replace(raw))
	if m == nil {
		return "", false
	}
	return m[1] + "field", true
}

// Encoders for outbound transaction inputs. Numeric inputs are serialized as
// decimal-integer-plus-type-suffix strings per the wallet boundary contract.

// EncodeU8 encodes v as a u8 literal.
func EncodeU8(v uint8) string { return fmt.Sprintf("%du8", v) }

// EncodeU32 encodes v as a u32 literal.
func EncodeU32(v uint32) string { return fmt.Sprintf("%du32", v) }

// EncodeU64 encodes v as a u64 literal.
func EncodeU64(v uint64) string { return fmt.Sprintf("%du64", v) }

// EncodeU128 encodes v as a u128 literal. Amounts in this system fit in
// uint64; the wire type is wider than the domain type.
func EncodeU128(v uint64) string { return fmt.Sprintf("%du128", v) }

// EncodeBool encodes v as a boolean literal.
func EncodeBool(v bool) string { return strconv.FormatBool(v) }

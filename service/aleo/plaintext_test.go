package aleo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    uint64
		ok      bool
	}{
		{"bare u128", "1234u128", 1234, true},
		{"bare u64", "500000u64", 500000, true},
		{"embedded in struct", "{ amount: 1234u128 }", 1234, true},
		{"escaped quotes and newlines", "\"{\\n  amount: 42u128\\n}\"", 42, true},
		{"zero", "0u128", 0, true},
		{"no suffix", "1234", 0, false},
		{"empty", "", 0, false},
		{"garbage", "not a number", 0, false},
		{"overflow", "99999999999999999999999999u128", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Uint(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStructUint(t *testing.T) {
	payload := "{\n  borrowed_amount: 1000000u128,\n  collateral_amount: 2000000u128,\n  start_height: 4821u32\n}"

	v, ok := StructUint(payload, "borrowed_amount")
	require.True(t, ok)
	assert.Equal(t, uint64(1000000), v)

	v, ok = StructUint(payload, "collateral_amount")
	require.True(t, ok)
	assert.Equal(t, uint64(2000000), v)

	v, ok = StructUint(payload, "start_height")
	require.True(t, ok)
	assert.Equal(t, uint64(4821), v)

	_, ok = StructUint(payload, "missing_key")
	assert.False(t, ok)
}

func TestStructUint_KeyIsSuffixOfAnother(t *testing.T) {
	// "amount" must not match inside "collateral_amount".
	payload := "{ collateral_amount: 7u128, amount: 3u128 }"

	v, ok := StructUint(payload, "amount")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
}

func TestStructBool(t *testing.T) {
	payload := "{ active: true, settled: false }"

	v, ok := StructBool(payload, "active")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = StructBool(payload, "settled")
	require.True(t, ok)
	assert.False(t, v)

	_, ok = StructBool(payload, "missing")
	assert.False(t, ok)
}

func TestStructFieldID(t *testing.T) {
	payload := "{ borrowed_token_id: 2field, collateral_token_id: 1field }"

	id, ok := StructFieldID(payload, "collateral_token_id")
	require.True(t, ok)
	assert.Equal(t, "1field", id)

	_, ok = StructFieldID(payload, "missing")
	assert.False(t, ok)
}

func TestNormalizeFieldID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"1field", "1field", true},
		{"1field.private", "1field", true},
		{"  42field  ", "42field", true},
		{"\"7field\"", "7field", true},
		{"field", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeFieldID(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	// Values encoded for the wire must parse back to themselves.
	for _, v := range []uint64{0, 1, 500000, 1234567890} {
		got, ok := Uint(EncodeU128(v))
		require.True(t, ok)
		assert.Equal(t, v, got)

		got, ok = Uint(EncodeU64(v))
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	assert.Equal(t, "5u8", EncodeU8(5))
	assert.Equal(t, "4821u32", EncodeU32(4821))
	assert.Equal(t, "true", EncodeBool(true))
}

func TestRecordDataHelpers(t *testing.T) {
	rec := &Record{
		ID:         "rec-1",
		Owner:      "aleo1owner",
		ProgramID:  "veil_lend.aleo",
		RecordName: "Receipt",
		Data: map[string]string{
			"amount":   "500000u128.private",
			"token_id": "1field.private",
		},
	}

	amount, ok := rec.DataUint("amount")
	require.True(t, ok)
	assert.Equal(t, uint64(500000), amount)

	id, ok := rec.DataFieldID("token_id")
	require.True(t, ok)
	assert.Equal(t, "1field", id)

	_, ok = rec.DataUint("missing")
	assert.False(t, ok)
}

package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      uint64
		decimals uint8
		want     string
	}{
		{"typical", 1234567890, 6, "1234.5678"},
		{"zero", 0, 6, "0.0000"},
		{"left padded fraction", 1234, 6, "0.0012"},
		{"whole units", 5000000, 6, "5.0000"},
		{"sub display precision", 12, 6, "0.0000"},
		{"fewer decimals than display cap", 105, 2, "1.05"},
		{"no decimals", 42, 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.raw, tt.decimals))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"whole", "1234", 6, 1234000000, false},
		{"fractional", "1234.5678", 6, 1234567800, false},
		{"full precision", "0.500000", 6, 500000, false},
		{"zero", "0", 6, 0, false},
		{"leading dot", ".5", 6, 500000, false},
		{"whitespace", "  1.5  ", 6, 1500000, false},
		{"negative", "-1", 6, 0, true},
		{"too many fraction digits", "1.1234567", 6, 0, true},
		{"empty", "", 6, 0, true},
		{"garbage", "one", 6, 0, true},
		{"overflow", "99999999999999999999", 6, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	// Formatting a parsed display value must reproduce it to the displayed
	// precision.
	for _, display := range []string{"0.0000", "1234.5678", "5.0000", "0.0012"} {
		raw, err := ParseAmount(display, 6)
		require.NoError(t, err)
		assert.Equal(t, display, FormatAmount(raw, 6), "display=%s", display)
	}
}

func TestTokenLookups(t *testing.T) {
	tok, ok := TokenBySymbol("aleo")
	require.True(t, ok)
	assert.Equal(t, ALEO.ID, tok.ID)

	tok, ok = TokenByID("2field")
	require.True(t, ok)
	assert.Equal(t, "wALEO", tok.Symbol)

	_, ok = TokenBySymbol("DOGE")
	assert.False(t, ok)

	_, ok = TokenByID("99field")
	assert.False(t, ok)
}

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw, code, expected string
	}{
		{"+1 (555) 010-1234", "", "+15550101234"},
		{"98765 43210", "91", "+919876543210"},
		{"919876543210", "91", "+919876543210"},
		{"9876543210", "+91", "+919876543210"},
		{"5550101", "", "+5550101"},
		{"+abc", "1", "+abc"},
	}

	for _, c := range cases {
		number, err := Normalize(c.raw, c.code)
		assert.NoError(t, err, c.raw)
		assert.Equal(t, c.expected, number, c.raw)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", " - ( ) "} {
		_, err := Normalize(raw, "1")

		_, ok := err.(*NormalizationError)
		assert.True(t, ok, "%q", raw)
	}
}

func TestParseNumberList(t *testing.T) {
	numbers := ParseNumberList(" +91 98765 43210, 9876543210,,+, +1-555-0101 ")
	assert.Equal(t, []string{"+919876543210", "+15550101"}, numbers)

	assert.Nil(t, ParseNumberList(""))
}

func TestRecipientsFromNumbers(t *testing.T) {
	recipients := RecipientsFromNumbers([]string{"+1", "+2"})
	assert.Equal(t, []Recipient{{Number: "+1"}, {Number: "+2"}}, recipients)
}

package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "bmw", expected: "bmw"},
		{input: " BMW\t\n", expected: "bmw"},
		{input: "Wheel Tyre Sets", expected: "wheeltyresets"},
	}

	for _, row := range table {
		require.Equal(t, row.expected, NormalizeName(row.input))
	}
}

func TestNormalizeSet(t *testing.T) {
	require.Nil(t, NormalizeSet(nil))
	set := NormalizeSet([]string{"BMW", " mini ", ""})
	require.Len(t, set, 2)
	require.Contains(t, set, "bmw")
	require.Contains(t, set, "mini")
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "AC Schnitzer brake kit", CleanText("  AC   Schnitzer\u0000 brake kit \n"))
}

func TestIsNumeric(t *testing.T) {
	testCases := []struct {
		input    string
		expected bool
	}{
		{input: "371", expected: true},
		{input: "", expected: false},
		{input: "371a", expected: false},
		{input: "brake-kit", expected: false},
		{input: "٣٧١", expected: false},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, IsNumeric(test.input), test.input)
	}
}

package cli

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

// For any amount, FormatIndianCurrency carries the rupee sign, two decimals,
// Indian digit grouping, and parses back to the rounded value.
func TestIndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("valid Indian format", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)

			prefix := "₹"
			if amount < 0 {
				prefix = "-₹"
			}
			if !strings.HasPrefix(formatted, prefix) {
				t.Logf("expected %s prefix for %f, got %s", prefix, amount, formatted)
				return false
			}

			parts := strings.Split(formatted, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("expected two decimals for %f, got %s", amount, formatted)
				return false
			}

			numPart := strings.TrimPrefix(strings.TrimPrefix(parts[0], "-"), "₹")
			return indianGrouping.MatchString(numPart)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("value survives formatting", prop.ForAll(
		func(amount float64) bool {
			parsed := parseIndianCurrency(FormatIndianCurrency(amount))
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.01
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent is signed", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			return value <= 0 || strings.HasPrefix(formatted, "+")
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatCompact picks the unit", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCompact(amount)
			switch abs := math.Abs(amount); {
			case abs >= 1e7:
				return strings.HasSuffix(formatted, "Cr")
			case abs >= 1e5:
				return strings.HasSuffix(formatted, "L")
			default:
				return strings.Contains(formatted, "₹")
			}
		},
		gen.Float64Range(-1e10, 1e10),
	))

	properties.TestingRun(t)
}

func parseIndianCurrency(s string) float64 {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "₹")
	s = strings.ReplaceAll(s, ",", "")

	var parsed float64
	for i, c := range s {
		if c == '.' {
			for j, d := range s[i+1:] {
				if d >= '0' && d <= '9' {
					parsed += float64(d-'0') / math.Pow(10, float64(j+1))
				}
			}
			break
		}
		if c >= '0' && c <= '9' {
			parsed = parsed*10 + float64(c-'0')
		}
	}

	if negative {
		parsed = -parsed
	}
	return parsed
}

func TestIndianNumberFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "₹0.00"},
		{100, "₹100.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},
		{10000000, "₹1,00,00,000.00"},
		{-1234.56, "-₹1,234.56"},
		{12345678.90, "₹1,23,45,678.90"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatIndianCurrency(tc.amount); result != tc.expected {
				t.Errorf("FormatIndianCurrency(%f) = %s, want %s", tc.amount, result, tc.expected)
			}
		})
	}
}

func TestChainCellFormats(t *testing.T) {
	testCases := []struct {
		name string
		got  string
		want string
	}{
		{"oi", FormatOI(1234567), "1,234,567"},
		{"oi rounds", FormatOI(99.6), "100"},
		{"volume", FormatVolume(15000), "15,000"},
		{"price", FormatPrice(182.5), "182.50"},
		{"no price", FormatPrice(0), "-"},
		{"iv", FormatIV(14.234), "14.2"},
		{"no iv", FormatIV(0), "-"},
		{"pcr", FormatPCR(1.2345), "1.23"},
		{"coverage", FormatCoverage(0.7), "70%"},
		{"signed", FormatSigned(12.5), "+12.50"},
		{"percent", FormatPercent(-2.5), "-2.50%"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}

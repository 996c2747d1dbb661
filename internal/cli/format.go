package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"optionchain/pkg/utils"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups an integer string the Indian way:
// 1,00,00,000 rather than 10,000,000.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatSigned formats a change with an explicit sign.
func FormatSigned(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f", value)
	}
	return fmt.Sprintf("%.2f", value)
}

// FormatCompact formats a number in lakhs or crores once it is large enough.
func FormatCompact(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1e7:
		return fmt.Sprintf("%.2f Cr", amount/1e7)
	case abs >= 1e5:
		return fmt.Sprintf("%.2f L", amount/1e5)
	default:
		return FormatIndianCurrency(amount)
	}
}

// FormatOI formats open interest in contracts.
func FormatOI(oi float64) string {
	return humanize.Comma(int64(math.Round(oi)))
}

// FormatVolume formats traded volume.
func FormatVolume(volume int64) string {
	return humanize.Comma(volume)
}

// FormatPrice formats a premium, or "-" when no trade is known.
func FormatPrice(price float64) string {
	if price <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatIV formats implied volatility already expressed in percent.
func FormatIV(iv float64) string {
	if iv <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", iv)
}

// FormatPCR formats put-call ratio.
func FormatPCR(pcr float64) string {
	return fmt.Sprintf("%.2f", pcr)
}

// FormatCoverage formats a 0..1 coverage fraction.
func FormatCoverage(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("02-Jan-2006")
}

// FormatTime formats a time in IST.
func FormatTime(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("15:04:05")
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

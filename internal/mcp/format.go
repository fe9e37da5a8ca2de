package mcp

import (
	"fmt"
	"strconv"
	"strings"
)

// formatNumber renders whole numbers with thousands separators.
// Fractional floats keep one decimal and no separators.
func formatNumber(n any) string {
	var v int64
	switch x := n.(type) {
	case float64:
		if x != float64(int64(x)) {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		v = int64(x)
	case int64:
		v = x
	case int:
		v = int64(x)
	default:
		return fmt.Sprint(n)
	}
	return groupThousands(v)
}

func groupThousands(v int64) string {
	digits := strconv.FormatInt(v, 10)
	sign := ""
	if v < 0 {
		sign, digits = "-", digits[1:]
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// kv renders "key: value" with values aligned in one column.
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string { return "## " + title }

// joinLines joins lines with newlines, skipping empty ones.
func joinLines(lines ...string) string {
	kept := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatPct(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" }

func formatMs(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "ms" }

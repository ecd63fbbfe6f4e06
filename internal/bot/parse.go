package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"stock_monitor/internal/filter"
)

// ParseKeywords splits command arguments on whitespace.
func ParseKeywords(args string) []string {
	return filter.Normalize(strings.Fields(args))
}

// ParsePrice parses the price threshold of /setprice. The price must be a
// positive number.
func ParsePrice(args string) (float64, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, fmt.Errorf("price is required")
	}
	p, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("invalid price %q", fields[0])
	}
	if p <= 0 {
		return 0, fmt.Errorf("price must be greater than zero")
	}
	return p, nil
}

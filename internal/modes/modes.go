// Package modes provides Mode-S transponder address helpers: icao24 syntax
// validation and military address-range matching against a masked range table.
package modes

import (
	"embed"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Built-in military allocation table. Each row is base;mask in hex, an
// address matches when base == addr&mask.
//
//go:embed mil_ranges.csv
var builtinRanges embed.FS

type maskedRange struct {
	base uint32
	mask uint32
}

// Lookup matches transponder addresses against military allocation ranges.
type Lookup struct {
	ranges []maskedRange
}

// NewLookup builds a Lookup from the CSV file at path, or from the built-in
// table when path is empty.
func NewLookup(path string) (*Lookup, error) {
	var data []byte
	var err error

	if path == "" {
		data, err = builtinRanges.ReadFile("mil_ranges.csv")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading military ranges: %w", err)
	}

	ranges, err := parseRanges(data)
	if err != nil {
		return nil, err
	}

	return &Lookup{ranges: ranges}, nil
}

func parseRanges(data []byte) ([]maskedRange, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = ';'
	reader.FieldsPerRecord = 2

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing military ranges: %w", err)
	}

	ranges := make([]maskedRange, 0, len(records))
	for _, record := range records {
		base, err := strconv.ParseUint(strings.TrimSpace(record[0]), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid range base %q: %w", record[0], err)
		}
		mask, err := strconv.ParseUint(strings.TrimSpace(record[1]), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid range mask %q: %w", record[1], err)
		}
		ranges = append(ranges, maskedRange{base: uint32(base), mask: uint32(mask)})
	}

	return ranges, nil
}

// IsMilitary reports whether the icao24 address falls into a military range.
// Malformed addresses are never military.
func (l *Lookup) IsMilitary(icao24 string) bool {
	if !IsICAO24Addr(icao24) {
		return false
	}
	addr, err := strconv.ParseUint(icao24, 16, 32)
	if err != nil {
		return false
	}

	for _, r := range l.ranges {
		if r.base == uint32(addr)&r.mask {
			return true
		}
	}
	return false
}

// IsICAO24Addr reports whether s is a syntactically valid 24-bit Mode-S
// address: exactly six hex characters.
func IsICAO24Addr(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsSwiss reports whether the hex address belongs to the Swiss allocation block.
func IsSwiss(icao24 string) bool {
	if len(icao24) < 3 || !strings.EqualFold(icao24[0:2], "4B") {
		return false
	}
	third, err := strconv.ParseUint(strings.ToUpper(icao24[2:3]), 16, 8)
	if err != nil {
		return false
	}
	return third <= 8
}

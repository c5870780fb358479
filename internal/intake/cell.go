// Package intake turns loosely typed player-table rows into a validated
// problem instance.
package intake

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Cell is a numeric table cell. Anything that does not parse as a number
// (text, booleans, null, empty) decodes to 0 rather than failing the request.
type Cell float64

func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*c = 0
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*c = 0
			return nil
		}
		*c = ParseCell(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			*c = 0
			return nil
		}
		*c = Cell(f)
	default:
		*c = 0
	}
	return nil
}

func (c Cell) MarshalJSON() ([]byte, error) {
	f := float64(c)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func (c Cell) Float64() float64 {
	return float64(c)
}

// ParseCell coerces a text cell. Surrounding spaces are ignored; anything
// else that is not a plain number, such as "20%", reads as 0.
func ParseCell(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return Cell(f)
}

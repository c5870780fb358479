// Package export orders results and reads and writes the CSV download format.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/stitts-dev/survivor-ev/internal/intake"
	"github.com/stitts-dev/survivor-ev/internal/models"
)

// FileName is the suggested name for a downloaded export.
const FileName = "nba_survivor_ev.csv"

// Header is the column row of the export.
var Header = []string{"Player", "Prob_20+", "Ownership", "Exact EV", "EV Index"}

var playerTableHeader = []string{"Player", "Prob_20+", "Ownership"}

// SortByEVIndex orders results by EVIndex, highest first. Ties keep their
// input order.
func SortByEVIndex(results []models.ResultRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EVIndex > results[j].EVIndex
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes the header and one row per result in the order given.
func WriteCSV(w io.Writer, results []models.ResultRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range results {
		record := []string{
			r.Name,
			formatFloat(r.HitProbability),
			formatFloat(r.StakeShare),
			formatFloat(r.ExactEV),
			formatFloat(r.EVIndex),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", r.Name, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// MarshalCSV renders results as an in-memory CSV document.
func MarshalCSV(results []models.ResultRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCSV parses a document produced by WriteCSV.
func ReadCSV(r io.Reader) ([]models.ResultRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	head, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := checkHeader(head, Header); err != nil {
		return nil, err
	}

	var results []models.ResultRecord
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		values := make([]float64, 4)
		for i := range values {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", line, Header[i+1], err)
			}
			values[i] = v
		}
		results = append(results, models.ResultRecord{
			Name:           record[0],
			HitProbability: values[0],
			StakeShare:     values[1],
			ExactEV:        values[2],
			EVIndex:        values[3],
		})
	}
	return results, nil
}

// ReadPlayerTable reads an input table with Player, Prob_20+ and Ownership
// columns in any order. Header names match case-insensitively and extra
// columns are ignored. Cells are coerced the same way as API input.
func ReadPlayerTable(r io.Reader) ([]intake.RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read player table header: %w", err)
	}

	index := make(map[string]int, len(head))
	for i, name := range head {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	cols := make([]int, len(playerTableHeader))
	for i, name := range playerTableHeader {
		col, ok := index[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("player table is missing column %q", name)
		}
		cols[i] = col
	}

	cell := func(record []string, col int) string {
		if col < len(record) {
			return record[col]
		}
		return ""
	}

	var rows []intake.RawRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read player table row %d: %w", line, err)
		}
		rows = append(rows, intake.RawRow{
			Player:    cell(record, cols[0]),
			Prob:      intake.ParseCell(cell(record, cols[1])),
			Ownership: intake.ParseCell(cell(record, cols[2])),
		})
	}
	return rows, nil
}

func checkHeader(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("unexpected CSV header %v", got)
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return fmt.Errorf("unexpected CSV header column %d: got %q, want %q", i, got[i], want[i])
		}
	}
	return nil
}

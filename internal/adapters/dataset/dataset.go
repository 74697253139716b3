// Package dataset reads and validates the CSV files exchanged with
// participants: the held-out solution and uploaded prediction files.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okian/holdout/internal/domain/scoring"
)

// Column names.
const (
	ColumnID        = "Id"
	ColumnPredicted = "Predicted"
	ColumnPublic    = "Public"
)

// AllowedExtension is the only accepted upload extension.
const AllowedExtension = ".csv"

// CheckExtension rejects file names that are not CSV.
func CheckExtension(filename string) error {
	if strings.ToLower(filepath.Ext(filename)) != AllowedExtension {
		return fmt.Errorf("%w: allowed file formats are {%s}", ErrUnsupportedFormat, AllowedExtension)
	}
	return nil
}

// table is a parsed CSV with a header index.
type table struct {
	header map[string]int
	names  []string
	rows   [][]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty file")
	}
	t := &table{header: make(map[string]int, len(records[0])), names: records[0], rows: records[1:]}
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		t.names[i] = name
		if _, dup := t.header[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		t.header[name] = i
	}
	return t, nil
}

// checkColumns requires exactly want, in any order.
func (t *table) checkColumns(want []string) error {
	var missing []string
	for _, c := range want {
		if _, ok := t.header[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns %v in file with columns %v", missing, t.names)
	}
	if len(t.names) > len(want) {
		return fmt.Errorf("too many columns, expecting columns %v", want)
	}
	return nil
}

func parseFloat(s string, line int, col string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: column %s: %q is not a number", line, col, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("line %d: column %s: %q is not a finite number", line, col, s)
	}
	return v, nil
}

// ValidateSolution parses a solution table with columns Id, Predicted and
// Public. Public holds only 0 and 1 and both values must be present.
func ValidateSolution(r io.Reader) (scoring.Solution, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSolution, err)
	}
	if err := t.checkColumns([]string{ColumnID, ColumnPredicted, ColumnPublic}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSolution, err)
	}

	var (
		sol       = make(scoring.Solution, 0, len(t.rows))
		seen      = make(map[string]struct{}, len(t.rows))
		nPublic   int
		nPrivate  int
		idCol     = t.header[ColumnID]
		valueCol  = t.header[ColumnPredicted]
		publicCol = t.header[ColumnPublic]
	)
	for i, row := range t.rows {
		line := i + 2
		id := strings.TrimSpace(row[idCol])
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate id %q", ErrInvalidSolution, line, id)
		}
		seen[id] = struct{}{}

		v, err := parseFloat(row[valueCol], line, ColumnPredicted)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSolution, err)
		}
		pub, err := parseFloat(row[publicCol], line, ColumnPublic)
		if err != nil || (pub != 0 && pub != 1) {
			return nil, fmt.Errorf("%w: public column should contain only 0 and 1 (1 means public, 0 means private)", ErrInvalidSolution)
		}
		if pub == 1 {
			nPublic++
		} else {
			nPrivate++
		}
		sol = append(sol, scoring.Truth{ID: id, Value: v, Public: pub == 1})
	}
	if nPublic == 0 || nPrivate == 0 {
		return nil, fmt.Errorf("%w: public column should contain both 0 and 1", ErrInvalidSolution)
	}
	return sol, nil
}

// LoadSolution reads and validates the solution file at path.
func LoadSolution(path string) (scoring.Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open solution %s: %w", path, err)
	}
	defer f.Close()

	sol, err := ValidateSolution(f)
	if err != nil {
		return nil, fmt.Errorf("solution %s: %w", path, err)
	}
	return sol, nil
}

// ValidatePredictions parses an uploaded prediction table with columns Id
// and Predicted, and checks it covers exactly the ids of sol.
func ValidatePredictions(r io.Reader, sol scoring.Solution) (scoring.Predictions, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if err := t.checkColumns([]string{ColumnID, ColumnPredicted}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if len(t.rows) != len(sol) {
		return nil, fmt.Errorf("%w: submitted solution has %d rows while the dataset has %d rows",
			ErrInvalidSubmission, len(t.rows), len(sol))
	}

	idCol, valueCol := t.header[ColumnID], t.header[ColumnPredicted]
	pred := make(scoring.Predictions, len(t.rows))
	for i, row := range t.rows {
		id := strings.TrimSpace(row[idCol])
		if _, dup := pred[id]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate id %q", ErrInvalidSubmission, i+2, id)
		}
		v, err := parseFloat(row[valueCol], i+2, ColumnPredicted)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
		pred[id] = v
	}
	for _, truth := range sol {
		if _, ok := pred[truth.ID]; !ok {
			return nil, fmt.Errorf("%w: indices do not match", ErrInvalidSubmission)
		}
	}
	return pred, nil
}

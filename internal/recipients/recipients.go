// Package recipients loads the recipient table (name, email, postal address)
// from a spreadsheet or CSV export.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported recipient file format")
	ErrNoRecipients      = errors.New("no rows with an email address")
	ErrEmptyTable        = errors.New("recipient table is empty")
)

// Recipient is one row of the table. Row is its position after rows without
// email were discarded and is the identity used by match results.
type Recipient struct {
	Name    string
	Email   string
	Address string
	Row     int
}

// Column is a logical column of the recipient schema.
type Column string

const (
	ColumnName    Column = "Name"
	ColumnEmail   Column = "Email"
	ColumnAddress Column = "Address"
)

var requiredColumns = []Column{ColumnName, ColumnEmail, ColumnAddress}

// aliases maps case-folded header text to its logical column.
var aliases = map[string]Column{
	"nombre":    ColumnName,
	"name":      ColumnName,
	"email":     ColumnEmail,
	"correo":    ColumnEmail,
	"e-mail":    ColumnEmail,
	"dirección": ColumnAddress,
	"direccion": ColumnAddress,
	"address":   ColumnAddress,
}

// MissingColumnsError reports required columns absent from the header row.
type MissingColumnsError struct {
	Columns []Column
}

func (e *MissingColumnsError) Error() string {
	names := make([]string, 0, len(e.Columns))
	for _, column := range e.Columns {
		names = append(names, string(column))
	}
	return fmt.Sprintf("missing required columns: %s", strings.Join(names, ", "))
}

// Load reads recipients from r, choosing the decoder from name's extension.
func Load(name string, r io.Reader) ([]Recipient, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		rows, err = readXLSX(r)
	case ".csv":
		rows, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}
	return FromRows(rows)
}

// FromRows resolves the header row against the schema and converts the
// remaining rows. Rows with a blank email are dropped.
func FromRows(rows [][]string) ([]Recipient, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	index, err := resolveHeader(rows[0])
	if err != nil {
		return nil, err
	}

	recipients := make([]Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		email := cell(row, index[ColumnEmail])
		if email == "" {
			continue
		}
		recipients = append(recipients, Recipient{
			Name:    cell(row, index[ColumnName]),
			Email:   email,
			Address: cell(row, index[ColumnAddress]),
			Row:     len(recipients),
		})
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}

func resolveHeader(header []string) (map[Column]int, error) {
	fold := cases.Fold()
	index := make(map[Column]int, len(requiredColumns))
	for i, raw := range header {
		column, ok := aliases[fold.String(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))]
		if !ok {
			continue
		}
		if _, seen := index[column]; !seen {
			index[column] = i
		}
	}

	var missing []Column
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	return index, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

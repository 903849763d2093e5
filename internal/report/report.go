// Package report exports the send log and the unmatched document list as
// spreadsheets.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

const (
	TimestampLayout = "2006-01-02 15:04:05"

	sendLogSheet   = "Send Log"
	unmatchedSheet = "Unmatched"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrBadHeader     = errors.New("unexpected send log header")
)

var sendLogHeader = []string{"Filename", "Destination Email", "Status", "Error Message", "Timestamp"}

var unmatchedHeader = []string{"Unmatched PDF"}

// ParseFormat accepts "xlsx" or "csv" in any case. Empty means xlsx.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// SendLogFilename names a send log export after its creation time.
func SendLogFilename(now time.Time, format Format) string {
	return fmt.Sprintf("send_log_%s.%s", now.Format("20060102_150405"), format)
}

func UnmatchedFilename(format Format) string {
	return "unmatched." + string(format)
}

func WriteSendLog(w io.Writer, format Format, entries []dispatch.Entry) error {
	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, sendLogHeader)
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.DocumentID,
			entry.RecipientEmail,
			string(entry.Status),
			entry.Error,
			entry.Timestamp.Format(TimestampLayout),
		})
	}
	return writeRows(w, format, sendLogSheet, rows)
}

// ReadSendLog parses a file produced by WriteSendLog. Timestamps are read
// in the local time zone at second precision.
func ReadSendLog(r io.Reader, format Format) ([]dispatch.Entry, error) {
	rows, err := readRows(r, format)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || !sameHeader(rows[0], sendLogHeader) {
		return nil, ErrBadHeader
	}

	entries := make([]dispatch.Entry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		row = pad(row, len(sendLogHeader))
		ts, err := time.ParseInLocation(TimestampLayout, row[4], time.Local)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse timestamp: %w", i+2, err)
		}
		entries = append(entries, dispatch.Entry{
			DocumentID:     row[0],
			RecipientEmail: row[1],
			Status:         dispatch.Status(row[2]),
			Error:          row[3],
			Timestamp:      ts,
		})
	}
	return entries, nil
}

// WriteUnmatched lists each unmatched document as <id>.pdf.
func WriteUnmatched(w io.Writer, format Format, ids []string) error {
	rows := make([][]string, 0, len(ids)+1)
	rows = append(rows, unmatchedHeader)
	for _, id := range ids {
		rows = append(rows, []string{id + ".pdf"})
	}
	return writeRows(w, format, unmatchedSheet, rows)
}

func writeRows(w io.Writer, format Format, sheet string, rows [][]string) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	case FormatXLSX:
		return writeXLSX(w, sheet, rows)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func writeXLSX(w io.Writer, sheet string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func readRows(r io.Reader, format Format) ([][]string, error) {
	switch format {
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		return rows, nil
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("read xlsx: %w", err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func sameHeader(row, want []string) bool {
	if len(row) < len(want) {
		return false
	}
	for i, name := range want {
		if strings.TrimSpace(row[i]) != name {
			return false
		}
	}
	return true
}

func pad(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}

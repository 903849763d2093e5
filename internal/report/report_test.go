package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
)

func sampleEntries() []dispatch.Entry {
	base := time.Date(2024, 5, 2, 10, 15, 30, 0, time.Local)
	return []dispatch.Entry{
		{DocumentID: "Juan Perez", RecipientEmail: "juan@example.com", Status: dispatch.StatusSent, Timestamp: base},
		{DocumentID: "Acme, S.L.", RecipientEmail: "acme@example.com", Status: dispatch.StatusError, Error: "smtp submit: 550 mailbox \"unavailable\"", Timestamp: base.Add(2 * time.Second)},
		{DocumentID: "Cliente_003", RecipientEmail: "c3@example.com", Status: dispatch.StatusSent, Timestamp: base.Add(4 * time.Second)},
	}
}

func projection(entries []dispatch.Entry) [][]string {
	var rows [][]string
	for _, e := range entries {
		rows = append(rows, []string{e.DocumentID, e.RecipientEmail, string(e.Status), e.Error, e.Timestamp.Format(TimestampLayout)})
	}
	return rows
}

func TestSendLogRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatXLSX, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteSendLog(&buf, format, sampleEntries()))

			got, err := ReadSendLog(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, projection(sampleEntries()), projection(got))
			for i, entry := range got {
				assert.True(t, entry.Timestamp.Equal(sampleEntries()[i].Timestamp))
			}
		})
	}
}

func TestWriteSendLogXLSXLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSendLog(&buf, FormatXLSX, sampleEntries()[:1]))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Send Log"}, f.GetSheetList())
	rows, err := f.GetRows("Send Log")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Filename", "Destination Email", "Status", "Error Message", "Timestamp"},
		{"Juan Perez", "juan@example.com", "Sent", "", "2024-05-02 10:15:30"},
	}, rows)
}

func TestReadSendLogRejectsForeignFile(t *testing.T) {
	_, err := ReadSendLog(bytes.NewBufferString("Name,Email\nJuan,juan@example.com\n"), FormatCSV)
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = ReadSendLog(bytes.NewBufferString(""), FormatCSV)
	assert.ErrorIs(t, err, ErrBadHeader)

	bad := "Filename,Destination Email,Status,Error Message,Timestamp\nJuan,juan@example.com,Sent,,yesterday\n"
	_, err = ReadSendLog(bytes.NewBufferString(bad), FormatCSV)
	assert.ErrorContains(t, err, "row 2")
}

func TestWriteUnmatched(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUnmatched(&buf, FormatCSV, []string{"Zeta Corp", "Cliente_007"}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Unmatched PDF"}, {"Zeta Corp.pdf"}, {"Cliente_007.pdf"}}, rows)

	buf.Reset()
	require.NoError(t, WriteUnmatched(&buf, FormatXLSX, nil))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	xrows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Unmatched PDF"}}, xrows)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatXLSX},
		{in: "XLSX", want: FormatXLSX},
		{in: " csv ", want: FormatCSV},
		{in: "pdf", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFilenames(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 4, 5, 0, time.UTC)
	assert.Equal(t, "send_log_20240502_090405.xlsx", SendLogFilename(now, FormatXLSX))
	assert.Equal(t, "send_log_20240502_090405.csv", SendLogFilename(now, FormatCSV))
	assert.Equal(t, "unmatched.csv", UnmatchedFilename(FormatCSV))
}

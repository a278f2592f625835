package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	api "keygate/pkg/contracts/api/v1"
)

var exportTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleList() *api.ListResponse {
	return &api.ListResponse{
		Keys: []api.KeySummary{
			{
				Key:           "AB12-CD34-EF56-7890",
				Label:         "ops, laptop",
				Status:        api.StatusActive,
				Online:        true,
				DeviceID:      "device-1",
				MACAddress:    "aa:bb:cc:dd:ee:01",
				CreatedAt:     exportTime.UnixMilli(),
				ExpiresAt:     exportTime.Add(30 * 24 * time.Hour).UnixMilli(),
				ExpiresInDays: 30,
				DaysRemaining: 30,
			},
			{
				Key:          "0000-1111-2222-3333",
				Status:       api.StatusRevoked,
				KillSwitch:   true,
				RevokedAt:    exportTime.UnixMilli(),
				TamperReason: "Client reported tampering",
			},
		},
		Stats: api.Stats{Total: 2, Active: 1, Revoked: 1, Killed: 1, Online: 1},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"XLSX", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "keygate-keys-20250301-120000.xlsx", FormatXLSX.FileName(exportTime))
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatCSV, sampleList(), exportTime))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Headers, records[0])
	assert.Equal(t, "AB12-CD34-EF56-7890", records[1][0])
	assert.Equal(t, "ops, laptop", records[1][1])
	assert.Equal(t, "2025-03-01T12:00:00Z", records[1][7])
	assert.Equal(t, "true", records[2][3])
	assert.Equal(t, "", records[2][7])
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatXLSX, sampleList(), exportTime))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(keysSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Key", rows[0][0])
	assert.Equal(t, "0000-1111-2222-3333", rows[2][0])
	assert.Equal(t, api.StatusRevoked, rows[2][2])

	total, err := f.GetCellValue(statsSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "2", total)
}

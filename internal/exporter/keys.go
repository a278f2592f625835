package exporter

import (
	"fmt"
	"io"
	"time"

	api "keygate/pkg/contracts/api/v1"
)

// Headers are the export columns in order
var Headers = []string{
	"Key",
	"Label",
	"Status",
	"Kill Switch",
	"Online",
	"Device ID",
	"MAC Address",
	"Created At",
	"Expires At",
	"Expires In Days",
	"Days Remaining",
	"Activated At",
	"Last Used",
	"Last Heartbeat",
	"Revoked At",
	"Tamper Date",
	"Tamper Reason",
}

// Row renders one key in column order
func Row(k api.KeySummary) []string {
	return []string{
		k.Key,
		k.Label,
		k.Status,
		formatBool(k.KillSwitch),
		formatBool(k.Online),
		k.DeviceID,
		k.MACAddress,
		formatTime(k.CreatedAt),
		formatTime(k.ExpiresAt),
		formatInt(int64(k.ExpiresInDays)),
		formatInt(int64(k.DaysRemaining)),
		formatTime(k.ActivatedAt),
		formatTime(k.LastUsed),
		formatTime(k.LastHeartbeat),
		formatTime(k.RevokedAt),
		k.TamperDate,
		k.TamperReason,
	}
}

// Rows renders every key of the list
func Rows(list *api.ListResponse) [][]string {
	rows := make([][]string, 0, len(list.Keys))
	for _, k := range list.Keys {
		rows = append(rows, Row(k))
	}
	return rows
}

// Export writes list to w in format
func Export(w io.Writer, format Format, list *api.ListResponse, now time.Time) error {
	switch format {
	case FormatCSV:
		return NewCSVWriter(w).Write(WriteOptions{
			Headers:   Headers,
			Records:   Rows(list),
			BOMPrefix: true,
		})
	case FormatXLSX:
		return WriteXLSX(w, list, now)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Package exporter renders the admin key list for download.
//
// Two formats are supported:
//
// CSV: one row per key with a UTF-8 BOM so spreadsheet tools detect the
// encoding.
//
// XLSX: a "Keys" sheet with the same columns and a "Stats" sheet with the
// aggregate counters, written with excelize.
//
// Example usage:
//
//	list, _ := svc.List(ctx)
//	format, _ := exporter.ParseFormat(r.URL.Query().Get("format"))
//	w.Header().Set("Content-Type", format.ContentType())
//	err := exporter.Export(w, format, list, time.Now())
package exporter

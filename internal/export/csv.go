// Package export writes student lists as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"verifyme/internal/student"
)

// Header is the first CSV row.
var Header = []string{"Full Name", "Matric Number", "Faculty", "Department", "Status", "Created At"}

// NotAvailable stands in for a missing timestamp.
const NotAvailable = "N/A"

// FileName is the download name for an export made at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("students_%s.csv", t.Format("2006-01-02"))
}

// WriteCSV writes the header and one row per record in the given order.
func WriteCSV(w io.Writer, records []student.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		created := NotAvailable
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		row := []string{r.FullName, r.MatricNumber, r.Faculty, r.Department, string(r.Status), created}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

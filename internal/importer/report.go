package importer

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/JonMunkholm/recimport/internal/core"
)

var reportHeader = []string{"record", "stage", "field", "code", "value", "message"}

// WriteFailureReport writes one CSV line per rejected field. Records are
// numbered from 1 in read order.
func WriteFailureReport(w io.Writer, failures []core.RecordFailure) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}

	for _, f := range failures {
		record := strconv.Itoa(f.Index + 1)
		fields := f.Fields
		if len(fields) == 0 {
			fields = core.FieldFailures{{Message: "record rejected"}}
		}
		for _, ff := range fields {
			line := []string{record, string(f.Stage), ff.Field, ff.Code, ff.Value, ff.Message}
			if err := cw.Write(line); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

package importer

import (
	"bytes"
	"testing"

	"github.com/JonMunkholm/recimport/internal/core"
)

func TestWriteFailureReport(t *testing.T) {
	failures := []core.RecordFailure{
		{Index: 0, Stage: core.StageRead, Fields: core.FieldFailures{{Code: "FILE006", Message: "too few columns: got 1, want at least 3"}}},
		{Index: 4, Stage: core.StageValidate, Fields: core.FieldFailures{
			{Field: "Amount", Code: "VAL002", Value: "lots", Message: "invalid number format"},
			{Field: "Date", Code: "VAL001", Value: "soon, maybe", Message: "invalid date format"},
		}},
		{Index: 6, Stage: core.StageMap},
	}

	var buf bytes.Buffer
	if err := WriteFailureReport(&buf, failures); err != nil {
		t.Fatalf("WriteFailureReport() error = %v", err)
	}

	want := "record,stage,field,code,value,message\n" +
		"1,read,,FILE006,,\"too few columns: got 1, want at least 3\"\n" +
		"5,validate,Amount,VAL002,lots,invalid number format\n" +
		"5,validate,Date,VAL001,\"soon, maybe\",invalid date format\n" +
		"7,map,,,,record rejected\n"
	if buf.String() != want {
		t.Errorf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteFailureReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFailureReport(&buf, nil); err != nil {
		t.Fatalf("WriteFailureReport() error = %v", err)
	}
	if buf.String() != "record,stage,field,code,value,message\n" {
		t.Errorf("report = %q", buf.String())
	}
}

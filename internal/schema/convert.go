package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Convert returns the pgtype value of a cleaned cell for the given field.
// Empty or unparseable input yields a value with Valid=false, which writes
// as NULL.
func Convert(spec FieldSpec, s string) any {
	switch spec.Type {
	case FieldDate:
		return ToPgDate(s)
	case FieldNumeric:
		return ToPgNumeric(s)
	case FieldBool:
		return ToPgBool(s)
	default:
		return ToPgText(s)
	}
}

// ToPgText trims s; blank text is NULL.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	return pgtype.Text{String: s, Valid: s != ""}
}

// ToPgDate parses s with the first matching layout in dateLayouts.
func ToPgDate(s string) pgtype.Date {
	t, ok := parseDate(strings.TrimSpace(s))
	if !ok {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgNumeric accepts plain decimals plus the spreadsheet decorations in
// normalizeNumber. Exponents are rejected.
func ToPgNumeric(s string) pgtype.Numeric {
	norm, ok := normalizeNumber(s)
	if !ok {
		return pgtype.Numeric{}
	}
	var n pgtype.Numeric
	if err := n.Scan(norm); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

// ToPgBool accepts the words in boolWords, case-insensitively.
func ToPgBool(s string) pgtype.Bool {
	v, ok := boolWords[strings.ToLower(strings.TrimSpace(s))]
	return pgtype.Bool{Bool: v, Valid: ok}
}

// ToPgUUID parses s in any form uuid.Parse accepts.
func ToPgUUID(s string) pgtype.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// ============================================================================
// Parsing
// ============================================================================

// TwoDigitYearPivot is how far into the future a two-digit year may land
// before it is read as the previous century.
var TwoDigitYearPivot = 20

type dateLayout struct {
	layout    string
	shortYear bool
}

// dateLayouts are tried in order; four-digit years come first since they
// are unambiguous. Month precedes day in slash, dash and dot forms.
var dateLayouts = []dateLayout{
	{layout: "2006-01-02"},
	{layout: "2006/01/02"},
	{layout: "2006.01.02"},
	{layout: "20060102"},
	{layout: "1/2/2006"},
	{layout: "01/02/2006"},
	{layout: "1-2-2006"},
	{layout: "01-02-2006"},
	{layout: "1.2.2006"},
	{layout: "01.02.2006"},
	{layout: "Jan 2, 2006"},
	{layout: "2 Jan 2006"},
	{layout: "1/2/06", shortYear: true},
	{layout: "01/02/06", shortYear: true},
	{layout: "1-2-06", shortYear: true},
	{layout: "1.2.06", shortYear: true},
	{layout: "01.02.06", shortYear: true},
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.shortYear && t.Year() > time.Now().Year()+TwoDigitYearPivot {
			t = t.AddDate(-100, 0, 0)
		}
		return t, true
	}
	return time.Time{}, false
}

var (
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

	// numberNoise is stripped before a number is matched.
	numberNoise = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")
)

// normalizeNumber turns "$1,234.50" into "1234.50" and the accounting form
// "(12.00)" into "-12.00".
func normalizeNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	negative := len(s) > 1 && s[0] == '(' && s[len(s)-1] == ')'
	if negative {
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(numberNoise.Replace(s))
	if negative {
		s = "-" + s
	}
	return s, decimalPattern.MatchString(s)
}

var boolWords = map[string]bool{
	"true": true, "t": true, "yes": true, "y": true, "1": true,
	"false": false, "f": false, "no": false, "n": false, "0": false,
}

// ============================================================================
// Cells and headers
// ============================================================================

// CleanCell strips what spreadsheet exports wrap around a value: spaces,
// the ="..." formula guard, quotes and a "netsuite:" reference prefix.
func CleanCell(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "=")
	s = strings.Trim(s, `"'`)
	return strings.TrimPrefix(s, "netsuite:")
}

// MakeHeaderIndex maps each cleaned, lowercased header to its position.
// A repeated header keeps its last position.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(CleanCell(h))] = i
	}
	return idx
}

// ============================================================================
// Identifiers
// ============================================================================

// QuoteIdentifier double-quotes a SQL identifier, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ToDBColumnName lowercases name and joins its ASCII letter and digit runs
// with underscores: "Overall VAT ID (status)" becomes "overall_vat_id_status".
func ToDBColumnName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	return strings.Join(words, "_")
}

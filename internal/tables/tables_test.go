package tables

import (
	"testing"

	"github.com/JonMunkholm/recimport/internal/schema"
)

func TestBuiltInTablesRegistered(t *testing.T) {
	for _, key := range []string{"anrok_transactions", "sfdc_customers", "sfdc_price_book", "ns_customers"} {
		def, ok := schema.Get(key)
		if !ok {
			t.Errorf("table %s not registered", key)
			continue
		}
		if len(def.RequiredColumns()) == 0 {
			t.Errorf("table %s has no required columns", key)
		}
	}
}

func TestAnrokColumnOverrides(t *testing.T) {
	def, _ := schema.Get("anrok_transactions")
	spec, ok := def.Field("overall_vat_id_status")
	if !ok || spec.Name != "Overall VAT ID validation status" {
		t.Errorf("Field(overall_vat_id_status) = %+v, %v", spec, ok)
	}
}

func TestNormalizeUsState(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"California", "CA"},
		{"  new york ", "NY"},
		{"tx", "TX"},
		{"WA", "WA"},
		{"Ontario", "Ontario"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUsState(tt.in); got != tt.want {
			t.Errorf("NormalizeUsState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got := NormalizeCurrency(" usd "); got != "USD" {
		t.Errorf("NormalizeCurrency() = %q", got)
	}
}

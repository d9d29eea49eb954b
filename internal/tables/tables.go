// Package tables registers the built-in table definitions with the schema
// registry. Import it for side effects.
package tables

import "github.com/JonMunkholm/recimport/internal/schema"

func init() {
	schema.Register(anrokTransactions())
	schema.Register(sfdcCustomers())
	schema.Register(sfdcPriceBook())
	schema.Register(nsCustomers())
}

func anrokTransactions() schema.TableDefinition {
	return schema.TableDefinition{
		Info: schema.TableInfo{Key: "anrok_transactions", Group: "Anrok", Label: "Transactions"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "Transaction ID", Type: schema.FieldText, Required: true},
			{Name: "Customer ID", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Customer name", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Overall VAT ID validation status", DBColumn: "overall_vat_id_status", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Valid VAT IDs", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Other VAT IDs", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Invoice date", Type: schema.FieldDate, AllowEmpty: true},
			{Name: "Tax date", Type: schema.FieldDate, AllowEmpty: true},
			{Name: "Transaction currency", Type: schema.FieldText, AllowEmpty: true, Normalizer: NormalizeCurrency},
			{Name: "Sales amount", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "Exempt reasons", DBColumn: "exempt_reason", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Tax amount", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "Invoice amount", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "Void", Type: schema.FieldBool, AllowEmpty: true},
			{Name: "Customer address line 1", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Customer address city", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Customer address region", Type: schema.FieldText, AllowEmpty: true, Normalizer: NormalizeUsState},
			{Name: "Customer address postal code", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Customer address country", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Customer country code", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Jurisdictions", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Jurisdictions IDs", Type: schema.FieldText, AllowEmpty: true},
			{Name: "Return IDs", Type: schema.FieldText, AllowEmpty: true},
		},
	}
}

func sfdcCustomers() schema.TableDefinition {
	return schema.TableDefinition{
		Info: schema.TableInfo{Key: "sfdc_customers", Group: "SFDC", Label: "Customers"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "account_id_casesafe", Type: schema.FieldText, Required: true},
			{Name: "account_name", Type: schema.FieldText, Required: true},
			{Name: "last_activity", Type: schema.FieldDate, AllowEmpty: true},
			{Name: "type", Type: schema.FieldEnum, AllowEmpty: true, EnumValues: []string{"Customer", "Prospect", "Partner", "Reseller", "Other"}},
		},
	}
}

func sfdcPriceBook() schema.TableDefinition {
	return schema.TableDefinition{
		Info: schema.TableInfo{Key: "sfdc_price_book", Group: "SFDC", Label: "Price Book"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "price_book_name", Type: schema.FieldText, Required: true},
			{Name: "list_price", Type: schema.FieldNumeric, Required: true},
			{Name: "product_name", Type: schema.FieldText, AllowEmpty: true},
			{Name: "product_code", Type: schema.FieldText, Required: true},
			{Name: "product_id_casesafe", Type: schema.FieldText, AllowEmpty: true},
		},
	}
}

func nsCustomers() schema.TableDefinition {
	return schema.TableDefinition{
		Info: schema.TableInfo{Key: "ns_customers", Group: "NS", Label: "Customers"},
		FieldSpecs: []schema.FieldSpec{
			{Name: "salesforce_id_io", Type: schema.FieldText, AllowEmpty: true},
			{Name: "internal_id", Type: schema.FieldText, Required: true},
			{Name: "name", Type: schema.FieldText, Required: true},
			{Name: "duplicate", Type: schema.FieldBool, AllowEmpty: true},
			{Name: "company_name", Type: schema.FieldText, AllowEmpty: true},
			{Name: "balance", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "unbilled_orders", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "overdue_balance", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "days_overdue", Type: schema.FieldNumeric, AllowEmpty: true},
			{Name: "shipping_address_state", Type: schema.FieldText, AllowEmpty: true, Normalizer: NormalizeUsState},
		},
	}
}

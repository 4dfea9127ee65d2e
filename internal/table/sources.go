package table

import (
	"fmt"

	"github.com/iaros/recommend-engine/internal/model"
	"github.com/shopspring/decimal"
)

// requireColumns fatals (returns an error) when a required column is
// absent from every row — callers turn this into a pipelineerr
// DataQuality error naming the missing column.
func requireColumns(rows []Row, required ...string) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to validate columns against")
	}
	sample := rows[0]
	var missing []string
	for _, col := range required {
		if _, ok := sample[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %v", missing)
	}
	return nil
}

// LoadCustomers reads the customers table.
func LoadCustomers(path string) ([]model.Customer, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(rows, "customer_id", "region", "end_use"); err != nil {
		return nil, err
	}
	out := make([]model.Customer, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Customer{
			CustomerID:   r["customer_id"],
			CustomerName: r["customer_name"],
			Region:       orUnknown(r["region"]),
			EndUse:       orUnknown(r["end_use"]),
			CustomerType: orUnknown(r["customer_type"]),
			City:         r["city"],
			State:        r["state"],
			TenureDays:   ParseInt(r["tenure"]),
			CreditLimit:  ParseDecimal(r["credit_limit"]),
		})
	}
	return out, nil
}

// LoadProducts reads the products table, trying each of priceAliases
// in order to locate the unit price column.
func LoadProducts(path string, priceAliases []string) ([]model.Product, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(rows, "product_id"); err != nil {
		return nil, err
	}
	if len(priceAliases) == 0 {
		priceAliases = PriceAliasColumns
	}
	out := make([]model.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Product{
			ProductID:     r["product_id"],
			ProductName:   r["product_name"],
			Brand:         orUnknown(r["brand"]),
			L2Category:    orUnknown(r["l2_category"]),
			L3Category:    orUnknown(r["l3_category"]),
			Functionality: orUnknown(r["functionality"]),
			UnitPrice:     detectPrice(r, priceAliases),
			UnitOfMeasure: r["unit_of_measure"],
			InStock:       parseInStock(r["in_stock"]),
		})
	}
	return out, nil
}

func parseInStock(s string) bool {
	if s == "" {
		return true
	}
	return ParseBool(s)
}

// PriceAliasColumns is the default set of column names checked, in
// order, for a product's unit price, used when config.Config.PriceAliases
// is empty.
var PriceAliasColumns = []string{"unit_price", "price", "list_price", "unit_cost", "sale_price"}

func detectPrice(r Row, aliases []string) decimal.Decimal {
	for _, col := range aliases {
		if v, ok := r[col]; ok && v != "" {
			return ParseDecimal(v)
		}
	}
	return decimal.Zero
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// InvoiceParseResult separates successfully parsed invoice lines from
// the count of rows dropped for an unparseable timestamp — logged, not
// treated as fatal.
type InvoiceParseResult struct {
	Lines          []model.InvoiceLine
	DroppedRows    int
}

// LoadInvoiceLines reads the invoices table, dropping (and counting)
// rows with an unparseable timestamp.
func LoadInvoiceLines(path string) (*InvoiceParseResult, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(rows, "customer_id", "product_id", "invoice_date"); err != nil {
		return nil, err
	}
	res := &InvoiceParseResult{}
	for _, r := range rows {
		ts, ok := ParseTimestamp(r["invoice_date"])
		if !ok {
			res.DroppedRows++
			continue
		}
		res.Lines = append(res.Lines, model.InvoiceLine{
			InvoiceID:   r["invoice_id"],
			CustomerID:  r["customer_id"],
			ProductID:   r["product_id"],
			Quantity:    ParseInt(r["quantity"]),
			InvoiceDate: ts,
			UnitPrice:   ParseDecimal(r["unit_price"]),
			LineTotal:   ParseDecimal(r["line_total"]),
		})
	}
	return res, nil
}

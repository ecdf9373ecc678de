package domain

import "github.com/shopspring/decimal"

// CatalogItem: позиция каталога, неизменяемая на время жизни процесса.
type CatalogItem struct {
	ID               string
	Title            string
	Description      string
	Price            decimal.Decimal
	Currency         string
	Cover            string
	FulfillmentAsset string
}

package models

import "github.com/shopspring/decimal"

func init() {
	// Quantities and money are sent to clients as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// All lists every table in migration order.
func All() []any {
	return []any{
		&User{},
		&AuditLog{},
		&Product{},
		&Lot{},
		&StockMovement{},
		&Recipe{},
		&RecipeItem{},
		&MealPlan{},
		&MealPlanItem{},
		&Reservation{},
	}
}

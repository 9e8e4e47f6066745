package core

// CategoryTotal is the summed amount of every record sharing a category.
type CategoryTotal struct {
	Category string
	Total    float64
}

// SumAmounts returns the arithmetic sum of the amounts in es.
func SumAmounts(es []Expense) float64 {
	var total float64
	for _, e := range es {
		total += e.Amount
	}
	return total
}

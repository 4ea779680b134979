package common

import "github.com/shopspring/decimal"

// Round rounds num half away from zero to the given decimal places.
func Round(num float64, places int32) float64 {
	return decimal.NewFromFloat(num).Round(places).InexactFloat64()
}

package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxScale is the number of decimal places accepted for prices, sizes and
// cash amounts.
const MaxScale = 8

// MaxAmount bounds the absolute value of any price, size or cash amount
// taken from a request.
var MaxAmount = decimal.New(1, 15)

// Exponent and coefficient limits that are checked before any comparison.
// Comparing decimals rescales them to a common exponent, so a value such as
// 1e30000000 has to be refused without ever being compared.
const (
	maxExponent        = 32
	maxCoefficientBits = 256
)

// CheckAmount rejects amounts that are out of range or carry more than
// MaxScale decimal places. field names the value in the error message.
func CheckAmount(field string, d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > maxExponent || exp < -maxExponent || d.Coefficient().BitLen() > maxCoefficientBits {
		return &ValidationError{Message: fmt.Sprintf("%s is out of range", field)}
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return &ValidationError{Message: fmt.Sprintf("%s must be at most %s", field, MaxAmount)}
	}
	if !d.Equal(d.Truncate(MaxScale)) {
		return &ValidationError{Message: fmt.Sprintf("%s must have at most %d decimal places", field, MaxScale)}
	}
	return nil
}

// Notional returns price × size.
func Notional(price, size decimal.Decimal) decimal.Decimal {
	return price.Mul(size)
}

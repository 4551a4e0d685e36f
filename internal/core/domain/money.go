package domain

import "github.com/shopspring/decimal"

// Money is a fixed-point amount with two decimal places.
type Money = decimal.Decimal

const moneyPlaces = 2

func NewMoney(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, err
	}
	return d.Round(moneyPlaces), nil
}

// MustMoney is NewMoney for literals known to be valid.
func MustMoney(value string) Money {
	m, err := NewMoney(value)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money {
	return decimal.Zero
}

// Subtotal multiplies a unit price by a quantity. The result is exact.
func Subtotal(unitPrice Money, quantity int) Money {
	return unitPrice.Round(moneyPlaces).Mul(decimal.NewFromInt(int64(quantity)))
}

func FormatMoney(m Money) string {
	return m.StringFixed(moneyPlaces)
}

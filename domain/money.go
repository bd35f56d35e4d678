package domain

import (
	"fmt"
	"math"
)

// Money is an amount in a single currency. No conversion is ever performed.
type Money struct {
	Amount   float64
	Currency string
}

func (m Money) validate(field string, allowZero bool) error {
	if math.IsNaN(m.Amount) || math.IsInf(m.Amount, 0) {
		return fmt.Errorf("%w: %s amount is not a number", ErrValidation, field)
	}
	if m.Amount < 0 || (!allowZero && m.Amount == 0) {
		return fmt.Errorf("%w: %s amount must be positive", ErrValidation, field)
	}
	if !validCurrency(m.Currency) {
		return fmt.Errorf("%w: %s currency %q must be a 3-letter code", ErrValidation, field, m.Currency)
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

package domain

import (
	"fmt"
	"math"
)

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateEntry rejects log entries the transaction log must never hold.
func ValidateEntry(tx *Transaction) error {
	if err := ValidateAmount(tx.Amount); err != nil {
		return err
	}
	if tx.Sender == "" || tx.Recipient == "" {
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalidInput)
	}
	if tx.Sender == tx.Recipient {
		return ErrSameAccount
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, tx.Type)
	}
	return nil
}

// ApplyDelta adds delta to balance, refusing results below zero or past int64.
// It is the in-process equivalent of the stores' conditional update.
func ApplyDelta(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, fmt.Errorf("%w: balance %d + %d", ErrBalanceOverflow, balance, delta)
	}
	next := balance + delta
	if next < 0 {
		return 0, ErrPreconditionFailed
	}
	return next, nil
}

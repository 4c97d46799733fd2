package escrow

import (
	"errors"
	"fmt"
)

var (
	ErrTxoHashMismatch = errors.New("txo hash mismatch")
)

func ErrTxoMismatch(escrowHash, expected, computed string) error {
	return fmt.Errorf("%w: escrow=%s expected=%s computed=%s", ErrTxoHashMismatch, escrowHash, expected, computed)
}

func ErrNotEnoughConfirmations(txID string, have, want int64) error {
	return fmt.Errorf("not enough confirmations yet: tx=%s have=%d want=%d", txID, have, want)
}

func ErrTxNotFound(txID string) error {
	return fmt.Errorf("bitcoin tx not found: %s", txID)
}

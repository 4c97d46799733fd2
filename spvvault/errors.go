package spvvault

import "fmt"

func ErrWithdrawalTxNotFound(txID string) error {
	return fmt.Errorf("withdrawal tx not found: %s", txID)
}

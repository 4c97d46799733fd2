package agreement

import (
	"errors"
	"fmt"
)

// VerificationError: the contract rejected the claim as invalid. Not retryable.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("swap data verification failed: %s", e.Reason)
}

// RevertedError: the claim tx made it on chain but reverted.
type RevertedError struct {
	TxID string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction reverted: %s", e.TxID)
}

func IsVerificationError(err error) bool {
	var v *VerificationError
	return errors.As(err, &v)
}

func IsRevertedError(err error) bool {
	var r *RevertedError
	return errors.As(err, &r)
}

package txindex

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("index not initialized")
)

func ErrCorruptCheckpoint(file string, err error) error {
	return fmt.Errorf("corrupt checkpoint file %s: %w", file, err)
}

func ErrInvalidScriptHex(script string, err error) error {
	return fmt.Errorf("invalid output script hex %q: %w", script, err)
}

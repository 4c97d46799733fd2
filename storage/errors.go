package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded = errors.New("store not loaded")
)

func ErrDecodeRecord(namespace, key string, err error) error {
	return fmt.Errorf("cannot decode %s record %s: %w", namespace, key, err)
}

package errprocess

import (
	"errors"
	"fmt"

	"marketplace_chat_service/pkg/logger"
)

// Set logs errMsg and returns it as an error.
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap logs msg together with cause and returns a wrapping error, so callers
// can still match the cause with errors.Is.
func Wrap(msg string, cause error) error {
	logger.Log.Errorf(msg, cause)
	return fmt.Errorf("%s: %w", msg, cause)
}

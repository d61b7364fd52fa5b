package mongobase

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Configuration errors
	ErrInvalidConnectionString = errors.New("connection string does not name a database")
	ErrInvalidConfig           = errors.New("invalid configuration")

	// Query errors
	ErrIncompleteExpression   = errors.New("expression requires a constant before it can be used as a filter")
	ErrNoIncompleteExpression = errors.New("no incomplete expression to complete")
	ErrInvalidQuery           = errors.New("invalid query")

	// Session and transaction errors
	ErrTransactionNotStarted = errors.New("transaction has not been started")
	ErrContextClosed         = errors.New("context is closed")

	// Discovery and backend errors
	ErrDiscoveryFailed = errors.New("collection discovery failed")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsConfigurationError reports whether err comes from an unusable configuration.
// These are fatal at construction and never retried.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConnectionString) || errors.Is(err, ErrInvalidConfig)
}

// IsIncomplete reports whether err was caused by rendering an uncompleted template query
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncompleteExpression)
}

// IsStateError reports whether err is a violated session or transaction precondition
func IsStateError(err error) bool {
	return errors.Is(err, ErrTransactionNotStarted) ||
		errors.Is(err, ErrNoIncompleteExpression) ||
		errors.Is(err, ErrContextClosed)
}

// IsRetryable checks if an error is safe to retry.
// Programming errors (incomplete queries, transaction state) never are.
func IsRetryable(err error) bool {
	if IsConfigurationError(err) || IsIncomplete(err) || IsStateError(err) {
		return false
	}
	return errors.Is(err, ErrDiscoveryFailed) || errors.Is(err, ErrCircuitOpen)
}

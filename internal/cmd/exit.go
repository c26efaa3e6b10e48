package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/q99/cloudservices/pkg/discovery"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/provider"
)

// Exit codes outside the foundry catalog.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code for an error returned by Execute.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify picks a foundry exit code for a storage or discovery failure.
func classify(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, discovery.ErrInvalidRequest), errors.Is(err, factory.ErrUnsupported):
		return foundry.ExitInvalidArgument
	}

	var cfgErr *factory.ConfigurationError
	if errors.As(err, &cfgErr) {
		return foundry.ExitInvalidArgument
	}

	switch provider.Code(err) {
	case provider.CodeNotFound, provider.CodeBucketNotFound:
		return foundry.ExitFileNotFound
	case provider.CodeNotSupported:
		return foundry.ExitInvalidArgument
	}
	return foundry.ExitExternalServiceUnavailable
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/jeranaias/glial-tui/internal/api"
	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitNetworkError = 4
	ExitBackendError = 5
	ExitNotFound     = 6
	ExitInterrupted  = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid command-line usage.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// NewUsageError creates a UsageError.
func NewUsageError(msg string) error {
	return &UsageError{Message: msg}
}

// IsUsageError reports whether err is a UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// ErrMissingArgument returns a usage error for a missing positional.
func ErrMissingArgument(name, usage string) error {
	return NewUsageError(fmt.Sprintf("missing %s\nUsage: %s", name, usage))
}

// TurnError reports a turn that ended without completing.
type TurnError struct {
	Status string
	Err    error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("turn %s: %v", e.Status, e.Err)
	}
	return "turn " + e.Status
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// =============================================================================
// REPORTING
// =============================================================================

// DisplayError prints err to stderr.
func DisplayError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
}

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if IsUsageError(err) {
		return ExitUsageError
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, api.ErrNotFound) {
		return ExitNotFound
	}

	var se *api.StatusError
	if errors.As(err, &se) {
		return ExitBackendError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ExitNetworkError
	}
	return ExitGeneralError
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for common backend failures.
var (
	// ErrNoBody indicates a successful status with an empty response body.
	ErrNoBody = errors.New("response has no body")

	// ErrNotFound matches a *StatusError with status 404.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest matches a *StatusError with status 400.
	ErrBadRequest = errors.New("bad request")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// Is lets errors.Is match the status sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	default:
		return false
	}
}

// errorBody is the JSON error shape: {"error": "prompt required"}.
type errorBody struct {
	Error string `json:"error"`
}

// newStatusError builds a StatusError from a response body, falling back
// to the raw text when it is not the JSON error shape.
func newStatusError(status int, body []byte) *StatusError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return &StatusError{Status: status, Message: eb.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &StatusError{Status: status, Message: msg}
}

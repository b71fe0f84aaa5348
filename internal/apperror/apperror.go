// Copyright 2026 The buildkansen Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package apperror carries an HTTP status alongside a user-facing message and the underlying cause.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is returned by the domain services so handlers can map failures to responses.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// New builds an AppError.
func New(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound is shorthand for a 404 AppError.
func NotFound(message string, err error) *AppError {
	return New(http.StatusNotFound, message, err)
}

// Internal is shorthand for a 500 AppError.
func Internal(message string, err error) *AppError {
	return New(http.StatusInternalServerError, message, err)
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, defaulting to 500.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message carried by err.
// Errors that are not AppErrors get a generic message so internals do not leak.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return http.StatusText(http.StatusInternalServerError)
}

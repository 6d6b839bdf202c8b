// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yeetrun/nugetfeed/pkg/nuget"
)

// Error codes carried in error responses.
const (
	// ErrCodePackageInvalid indicates the uploaded archive was rejected
	ErrCodePackageInvalid = "PACKAGE_INVALID"
	// ErrCodeVersionExists indicates the package version is already published
	ErrCodeVersionExists = "VERSION_EXISTS"
	// ErrCodeNotFound indicates the requested resource does not exist
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeNameInvalid indicates a malformed package id or key
	ErrCodeNameInvalid = "NAME_INVALID"
	// ErrCodeTooLarge indicates the upload exceeded the size limit
	ErrCodeTooLarge = "TOO_LARGE"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeUnsupported  = "UNSUPPORTED"
	ErrCodeInternal     = "INTERNAL"
)

// ErrorDescriptor describes one error in an error response.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Errors []ErrorDescriptor `json:"errors"`
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Errors: []ErrorDescriptor{NewError(code, message, detail)},
	})
}

// NewError creates a new error descriptor.
func NewError(code, message string, detail any) ErrorDescriptor {
	return ErrorDescriptor{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

func (e ErrorDescriptor) Error() string {
	return e.Code + ": " + e.Message
}

// statusFor maps a repository error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, nuget.ErrInvalidPackage):
		return http.StatusBadRequest, ErrCodePackageInvalid
	case errors.Is(err, nuget.ErrVersionExists):
		return http.StatusConflict, ErrCodeVersionExists
	case errors.Is(err, nuget.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, nuget.ErrInvalidIdentity), errors.Is(err, nuget.ErrInvalidVersion):
		return http.StatusBadRequest, ErrCodeNameInvalid
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeErr writes err using the status statusFor assigns to it.
func writeErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteError(w, status, code, msg, nil)
}

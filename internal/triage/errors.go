// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"errors"
	"fmt"

	"github.com/jobdeck/triage/internal/models"
)

// Code categorizes triage protocol errors.
type Code string

const (
	// CodeNotFound — message, job, or run absent or outside the caller's
	// (provider, accountKey) scope.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict — the message was already decided, whether by a prior
	// decision or by losing the race to a concurrent one.
	CodeConflict Code = "CONFLICT"

	// CodeUnprocessable — an approval with no resolvable job to link to.
	CodeUnprocessable Code = "UNPROCESSABLE_ENTITY"

	// CodeRequestTimeout — an upstream capability call was aborted.
	CodeRequestTimeout Code = "REQUEST_TIMEOUT"

	// CodeUpstream — a non-success response from an upstream capability.
	CodeUpstream Code = "UPSTREAM_ERROR"
)

// Error is a categorized triage error. Conflict errors carry the status the
// message was actually decided with.
type Error struct {
	Code          Code
	Message       string
	DecidedStatus models.ProcessingStatus
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.DecidedStatus != "" {
		return fmt.Sprintf("%s: %s (status=%s)", e.Code, e.Message, e.DecidedStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a CONFLICT error reporting the decided status.
func Conflictf(status models.ProcessingStatus, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...), DecidedStatus: status}
}

// Unprocessablef builds an UNPROCESSABLE_ENTITY error.
func Unprocessablef(format string, args ...any) *Error {
	return &Error{Code: CodeUnprocessable, Message: fmt.Sprintf(format, args...)}
}

// Timeoutf builds a REQUEST_TIMEOUT error.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Code: CodeRequestTimeout, Message: fmt.Sprintf(format, args...)}
}

// Upstreamf builds an UPSTREAM_ERROR error.
func Upstreamf(format string, args ...any) *Error {
	return &Error{Code: CodeUpstream, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the triage code from an error chain. Unrecognized errors
// report an empty code.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsConflict reports whether the error chain contains a CONFLICT.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflict
}

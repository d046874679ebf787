// Copyright 2024 The OblivKV Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Code identifies the error kind. Values align with gRPC status codes so
// they can be carried in inline status fields unchanged.
type Code int32

const (
	CodeOK               Code = 0
	CodeInvalidArgument  Code = 3
	CodeDeadlineExceeded Code = 4
	CodeNotFound         Code = 5
	CodePermissionDenied Code = 7
	CodeInternal         Code = 13
	CodeUnavailable      Code = 14
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeDeadlineExceeded:
		return "DeadlineExceeded"
	case CodeNotFound:
		return "NotFound"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeInternal:
		return "Internal"
	case CodeUnavailable:
		return "Unavailable"
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Error is a typed error carrying one of the taxonomy codes.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(msg string) error  { return New(CodeInvalidArgument, msg) }
func DeadlineExceeded(msg string) error { return New(CodeDeadlineExceeded, msg) }
func NotFound(msg string) error         { return New(CodeNotFound, msg) }
func PermissionDenied(msg string) error { return New(CodePermissionDenied, msg) }
func Internal(msg string) error         { return New(CodeInternal, msg) }
func Internalf(format string, args ...interface{}) error {
	return Newf(CodeInternal, format, args...)
}
func Unavailable(msg string) error { return New(CodeUnavailable, msg) }

// CodeOf extracts the taxonomy code of err. Untyped errors are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

var (
	ErrKeyNotFound       = New(CodeNotFound, "Key not found")
	ErrEmptyQuery        = New(CodeInvalidArgument, "Empty query")
	ErrShardNotAvailable = New(CodeUnavailable, "shard has no available replica")
	ErrUnknownKeyID      = New(CodePermissionDenied, "unknown key id")
	ErrNoPartitions      = New(CodeInternal, "At least 1 partition is required")
)

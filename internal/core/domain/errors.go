// Copyright 2025.
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

package domain

import (
	"errors"
	"fmt"
)

// ConnectionErrorKind classifies connection-level failures so the
// manager can decide what is worth retrying.
type ConnectionErrorKind string

const (
	ConnTimeout      ConnectionErrorKind = "timeout"
	ConnAuthFailed   ConnectionErrorKind = "auth_failed"
	ConnTransport    ConnectionErrorKind = "transport"
	ConnPoolFull     ConnectionErrorKind = "pool_full"
	ConnNotConnected ConnectionErrorKind = "not_connected"
)

// ConnectionError is the typed error for any failure on the path from
// "dial" to "registered in the pool".
type ConnectionError struct {
	Kind ConnectionErrorKind
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection %s", e.Kind)
	if e.Host != "" {
		msg += " (" + e.Host + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps err with a kind and originating host.
func NewConnectionError(kind ConnectionErrorKind, host string, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Host: host, Err: err}
}

// IsConnectionKind reports whether err is a ConnectionError of the
// given kind anywhere in its chain.
func IsConnectionKind(err error, kind ConnectionErrorKind) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == kind
}

// Execution-level sentinel errors.
var (
	// ErrCommandBlocked marks a safety-policy denial. It is
	// deterministic and never retried.
	ErrCommandBlocked = errors.New("command blocked by safety policy")

	// ErrRetriesExhausted marks an execution that failed on every
	// configured attempt.
	ErrRetriesExhausted = errors.New("all execution attempts failed")

	// ErrRemoteNonZeroExit marks a command that reached the server and
	// returned a nonzero exit code.
	ErrRemoteNonZeroExit = errors.New("remote command exited nonzero")
)

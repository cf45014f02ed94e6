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

package ports

import (
	"time"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// Session is one authenticated connection to one remote host. Both the
// real SSH transport and the simulated transport implement it; the
// pool, manager, and tool layers never know which one they hold.
//
// A session has exactly one owner (the pool). Callers borrow it for
// the duration of a call and must not execute on the same session from
// two goroutines at once.
type Session interface {
	// Connect opens the transport. It validates the config first and
	// fails fast on a missing host, user, or auth method.
	Connect() error

	// Execute runs a command on the connected session and returns
	// stdout, stderr, and the remote exit code. It fails immediately
	// with a not-connected error if the session is not connected; it
	// never reconnects on its own.
	Execute(command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)

	// Put copies a local file to the remote path.
	Put(localPath, remotePath string) error

	// Get copies a remote file to the local path.
	Get(remotePath, localPath string) error

	// Disconnect closes the transport. Calling it on an already
	// disconnected session is a no-op.
	Disconnect() error

	// Status returns the current lifecycle state.
	Status() domain.SessionState

	// Info returns a point-in-time snapshot for status reporting.
	Info() domain.ConnectionInfo

	// Config returns the immutable config the session was built from.
	Config() domain.SessionConfig
}

// SessionFactory builds an unconnected Session for a config. The
// connection manager owns the only factory in the process; selecting
// the real or simulated transport happens here, once, at construction.
type SessionFactory func(cfg domain.SessionConfig) Session

// Inventory supplies server records and group definitions to the CLI
// layer.
type Inventory interface {
	Servers() ([]domain.Server, error)
	Groups() ([]domain.ServerGroup, error)
	FindServer(hostname string) (domain.Server, error)
}

// Package transport opens the byte pipe Session reads and writes:
// either an interactive SSH shell (ssh-cli) or an SSH-carried NETCONF
// channel (ssh-netconf). Neither implementation understands prompts or
// command framing; that is promptmatch's job.
package transport

import (
	"context"
	"strings"

	"github.com/nanoncore/fcr/fcrerr"
	"golang.org/x/crypto/ssh"
)

// Transport is the byte-level handle Session drives. Recv returns
// whatever bytes have arrived since the last call, blocking until at
// least one byte is available, ctx is done, or the connection closes.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// NetconfTransport is a Transport that additionally exposes the
// capabilities banner captured during session setup.
type NetconfTransport interface {
	Transport
	Capabilities() string
}

// classifyDialErr maps an SSH dial failure to the network-range fcrerr
// codes described in the transport design: a context deadline becomes
// CONNECTION_TIMEOUT, an auth rejection becomes PERMISSION_ERROR, and
// everything else becomes CONNECTION_ERROR.
func classifyDialErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fcrerr.Wrap(fcrerr.ConnectionTimeoutError, err)
	}
	if isAuthFailure(err) {
		return fcrerr.Wrap(fcrerr.Permission, err)
	}
	return fcrerr.Wrap(fcrerr.ConnectionError, err)
}

// isAuthFailure reports whether err is the SSH client rejecting
// credentials, as opposed to a dial/network-level failure.
func isAuthFailure(err error) bool {
	if _, ok := err.(*ssh.ExitError); ok {
		return false
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

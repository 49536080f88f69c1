// Copyright (c) 2025 The blockreq developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockreq

import "fmt"

// ErrorKind identifies a programmer-error class returned by this package.
// These are never expected to occur when the package is used correctly and
// are distinct from the ordinary boolean/empty-result returns used to
// signal transient or peer-misbehavior conditions.
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

const (
	// ErrUnknownPeer indicates an operation referenced a peer id that has no
	// PeerState in the registry. Every caller is expected to have already
	// called InitializePeer for the id, so this indicates a bug in the
	// caller, not a runtime condition to recover from.
	ErrUnknownPeer = ErrorKind("ErrUnknownPeer")

	// ErrDuplicatePeer indicates InitializePeer was called twice for the same
	// peer id without an intervening RemovePeer.
	ErrDuplicatePeer = ErrorKind("ErrDuplicatePeer")
)

// managerError pairs an ErrorKind with the peer id it concerns.
type managerError struct {
	Kind ErrorKind
	Peer int32
}

// Error satisfies the error interface.
func (e managerError) Error() string {
	return fmt.Sprintf("%s: peer %d", e.Kind, e.Peer)
}

// Unwrap returns the underlying wrapped error kind so errors.Is works
// against the ErrorKind sentinels above.
func (e managerError) Unwrap() error {
	return e.Kind
}

func newManagerError(kind ErrorKind, peer int32) error {
	return managerError{Kind: kind, Peer: peer}
}

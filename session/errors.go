// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import "errors"

var (
	// ErrSessionClosed is returned for operations on a session that has
	// been closed or has failed.
	ErrSessionClosed = errors.New("session: session closed")

	// ErrTooManySessions is returned when opening a session would exceed
	// the configured concurrent session limit.
	ErrTooManySessions = errors.New("session: too many sessions")

	// ErrRetriesExhausted is the terminal error of a session whose retry
	// budget ran out before an acknowledgement arrived.
	ErrRetriesExhausted = errors.New("session: retry budget exhausted")

	// ErrShutdown is returned when the manager is shutting down.
	ErrShutdown = errors.New("session: shutting down")
)

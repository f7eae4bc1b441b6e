// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package linkerr defines the failure taxonomy shared by every layer of the
// stove link, from the AT transport up to the supervisor.
//
// Errors are sentinels. Call sites wrap them with context using
// fmt.Errorf("...: %w", err) and callers match them with errors.Is.
package linkerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLinkUnavailable is returned when there is no underlying stream to the modem.
	ErrLinkUnavailable = errors.New("link unavailable")

	// ErrNoResponse is returned when an exchange timed out without the expected token.
	ErrNoResponse = errors.New("no response")

	// ErrUnexpectedResponse is returned when data arrived but did not match,
	// which includes an apparent baud mismatch.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrConfigurationRejected is returned when the modem answered a setup
	// command with something other than its success token.
	ErrConfigurationRejected = errors.New("configuration rejected")

	// ErrJoinFailed is returned when every LoRaWAN join attempt was exhausted.
	ErrJoinFailed = errors.New("join failed")

	// ErrModeSwitchFailed is returned when switching between P2P and LoRaWAN failed.
	// The previously active mode stays active.
	ErrModeSwitchFailed = errors.New("mode switch failed")

	// ErrInvalidCommand is returned for text outside the command vocabulary.
	// It is raised before any radio I/O.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidResponse is returned for text outside the response vocabulary.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrSafetyBlocked is returned when a manual ON is refused due to over-temperature.
	ErrSafetyBlocked = errors.New("blocked for safety")
)

// Describe maps an error to a short status string suitable for a small display.
// Full diagnostic detail stays in statistics and logs.
func Describe(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrLinkUnavailable):
		return "LoRa: Not available"
	case errors.Is(err, ErrJoinFailed):
		return "LoRa: Join failed"
	case errors.Is(err, ErrModeSwitchFailed):
		return "LoRa: Mode switch failed"
	case errors.Is(err, ErrConfigurationRejected):
		return "LoRa: Config rejected"
	case errors.Is(err, ErrNoResponse):
		return "No response"
	case errors.Is(err, ErrUnexpectedResponse):
		return "Bad response"
	case errors.Is(err, ErrInvalidCommand):
		return "Invalid command"
	case errors.Is(err, ErrInvalidResponse):
		return "Invalid response"
	case errors.Is(err, ErrSafetyBlocked):
		return "OFF (Safety)"
	default:
		return "Error"
	}
}

// Attempts collects failures from a multi-step procedure such as a baud search,
// so the final error can enumerate everything that was tried.
type Attempts struct {
	cause  error
	failed []string
}

// NewAttempts starts a collection whose final error wraps cause.
func NewAttempts(cause error) *Attempts {
	return &Attempts{cause: cause}
}

// Add records one failed step.
func (a *Attempts) Add(format string, args ...any) {
	a.failed = append(a.failed, fmt.Sprintf(format, args...))
}

// Escalate replaces the final cause when err is more specific. A garbled
// response outranks silence, which outranks a missing stream.
func (a *Attempts) Escalate(err error) {
	if rank(err) > rank(a.cause) {
		a.cause = err
	}
}

func rank(err error) int {
	switch {
	case errors.Is(err, ErrUnexpectedResponse):
		return 3
	case errors.Is(err, ErrNoResponse):
		return 2
	case errors.Is(err, ErrLinkUnavailable):
		return 1
	default:
		return 0
	}
}

// Len returns the number of recorded failures.
func (a *Attempts) Len() int {
	return len(a.failed)
}

// Err returns an error listing every recorded failure, wrapping the cause.
func (a *Attempts) Err(summary string) error {
	if len(a.failed) == 0 {
		return fmt.Errorf("%s: %w", summary, a.cause)
	}
	return fmt.Errorf("%s (tried %s): %w", summary, strings.Join(a.failed, "; "), a.cause)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package atlink drives a radio modem over a newline-terminated AT command
// stream. It owns the byte stream, performs command/response exchanges with
// echo and noise tolerance, and detects response completion by a trailing
// silence window.
package atlink

import (
	"fmt"
	"strings"
)

// Common tokens
const (
	OK    = "OK"
	ERROR = "ERROR"
	Done  = "DONE"

	// LineEnding terminates every command written to the modem.
	LineEnding = "\r\n"
)

// Kind identifies the nature of one line of modem output.
type Kind int

const (
	// Unrecognized is anything that is not one of the kinds below, including
	// error replies and noise from a baud mismatch.
	Unrecognized Kind = iota
	// Ack is a generic success reply ("OK", "+OK", "+AT: OK", "+RESET: OK").
	Ack
	// Echo is the modem repeating the command back.
	Echo
	// DataLine is a "+" prefixed information or event line
	// ("+MODE: TEST", "+TEST: RX ...", "+JOIN: Network joined").
	DataLine
)

func (k Kind) String() string {
	switch k {
	case Ack:
		return "ack"
	case Echo:
		return "echo"
	case DataLine:
		return "data"
	default:
		return "unrecognized"
	}
}

// Classify identifies one trimmed line of modem output in the context of
// the command that produced it. command may be empty for unsolicited lines.
func Classify(line, command string) Kind {
	line = strings.TrimSpace(line)
	if line == "" {
		return Unrecognized
	}

	upper := strings.ToUpper(line)
	if command != "" && strings.EqualFold(line, strings.TrimSpace(command)) {
		return Echo
	}
	if command == "" && strings.HasPrefix(upper, "AT") {
		return Echo
	}

	if strings.Contains(upper, ERROR) {
		return Unrecognized
	}

	switch {
	case upper == OK, upper == "+OK":
		return Ack
	case strings.HasPrefix(upper, "+") && strings.HasSuffix(upper, " OK"):
		return Ack
	case strings.HasPrefix(upper, "+"):
		return DataLine
	}
	return Unrecognized
}

// Lines splits raw modem output into trimmed non-empty lines.
func Lines(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Match reports whether response satisfies expected for command, and returns
// the line that matched.
//
// Echoed lines never match. A line containing expected matches. When the
// expected token is the generic OK, any Ack line and any "+" data line is
// accepted as a vendor acknowledgment.
func Match(response, command, expected string) (string, bool) {
	if expected == "" {
		return "", true
	}
	generic := strings.EqualFold(expected, OK)
	for _, line := range Lines(response) {
		kind := Classify(line, command)
		if kind == Echo {
			continue
		}
		if strings.Contains(line, expected) && !rejected(line, expected) {
			return line, true
		}
		if generic && (kind == Ack || kind == DataLine) {
			return line, true
		}
	}
	return "", false
}

// rejected reports an error reply that merely mentions the expected token,
// such as "+MODE: ERROR(-1) TEST".
func rejected(line, expected string) bool {
	return strings.Contains(strings.ToUpper(line), ERROR) &&
		!strings.Contains(strings.ToUpper(expected), ERROR)
}

// HexDump formats up to max bytes of b as space separated 0x.. pairs.
func HexDump(b []byte, max int) string {
	if len(b) > max {
		b = b[:max]
	}
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "0x%02X", c)
	}
	return sb.String()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atlink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/stovelink/pkg/linkerr"
	"go.uber.org/zap"
)

// Port is an established byte stream to the modem, typically a serial port
// or a WebSocket bridge.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a Port at the given baud rate. Ports without a baud rate
// (such as a network bridge) ignore it.
type Dialer interface {
	Dial(baud int) (Port, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(baud int) (Port, error)

func (f DialerFunc) Dial(baud int) (Port, error) {
	return f(baud)
}

// Timing holds the waits used by a Transport.
type Timing struct {
	// DrainCap bounds how long stale input is discarded before a command.
	DrainCap time.Duration
	// DrainGap is the pause between the two drain passes.
	DrainGap time.Duration
	// Settle is the silence after the last byte that ends a response.
	Settle time.Duration
	// ShortSettle extends Settle for short responses that look like a bare
	// echo, since completion messages such as TX DONE can lag the echo.
	ShortSettle time.Duration
	// Quantum is the polling interval.
	Quantum time.Duration
}

// DefaultTiming returns the timings used on real hardware.
func DefaultTiming() Timing {
	return Timing{
		DrainCap:    time.Second,
		DrainGap:    50 * time.Millisecond,
		Settle:      500 * time.Millisecond,
		ShortSettle: 2 * time.Second,
		Quantum:     10 * time.Millisecond,
	}
}

// shortResponseLen is the length at or below which a response without OK or
// DONE is treated as a possible bare echo.
const shortResponseLen = 10

// diagnosticBytes is how much of a failed response is hex dumped.
const diagnosticBytes = 50

// ExchangeResult is the outcome of one command/response attempt.
type ExchangeResult struct {
	Command  string
	Expected string
	// Response is the full trimmed text received.
	Response string
	// Matched is the line that satisfied Expected.
	Matched string
	Raw     []byte
	HexDump string
	Elapsed time.Duration
	OK      bool
	Err     error
}

// Transport owns the stream to the modem. It is not safe for concurrent use;
// exchanges are strictly sequential.
type Transport struct {
	port    Port
	rx      chan []byte
	quit    chan struct{}
	pending []byte
	lost    bool

	timing Timing
	yield  Yielder
	log    *zap.SugaredLogger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithTiming overrides the default timings.
func WithTiming(tm Timing) Option {
	return func(t *Transport) { t.timing = tm }
}

// WithYielder sets the cooperative yield hook.
func WithYielder(y Yielder) Option {
	return func(t *Transport) {
		if y != nil {
			t.yield = y
		}
	}
}

// NewTransport creates a Transport with no port attached.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		timing: DefaultTiming(),
		yield:  NoYield,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach makes p the active stream, closing any previous one.
func (t *Transport) Attach(p Port) {
	_ = t.Detach()
	if p == nil {
		return
	}
	t.port = p
	t.rx = make(chan []byte, 64)
	t.quit = make(chan struct{})
	t.pending = nil
	t.lost = false
	go pump(p, t.rx, t.quit)
}

// Detach closes the active stream, if any.
func (t *Transport) Detach() error {
	if t.port == nil {
		return nil
	}
	close(t.quit)
	err := t.port.Close()
	t.port = nil
	t.rx = nil
	t.pending = nil
	return err
}

// Connected reports whether a stream is attached and has not failed.
func (t *Transport) Connected() bool {
	if t.port == nil {
		return false
	}
	t.fill()
	return !t.lost
}

// Timing returns the active timings.
func (t *Transport) Timing() Timing {
	return t.timing
}

// Yielder returns the cooperative yield hook.
func (t *Transport) Yielder() Yielder {
	return t.yield
}

// pump moves bytes from the port into rx until the port fails or quit closes.
func pump(p Port, rx chan<- []byte, quit <-chan struct{}) {
	defer close(rx)
	buf := make([]byte, 256)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case rx <- chunk:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
		select {
		case <-quit:
			return
		default:
		}
	}
}

// fill moves everything currently available into pending without blocking.
// It reports whether any new bytes arrived.
func (t *Transport) fill() bool {
	got := false
	for {
		select {
		case chunk, ok := <-t.rx:
			if !ok {
				t.rx = nil
				t.lost = true
				return got
			}
			t.pending = append(t.pending, chunk...)
			got = true
		default:
			return got
		}
	}
}

// Available reports whether unread input is waiting.
func (t *Transport) Available() bool {
	t.fill()
	return len(t.pending) > 0
}

// Drain discards buffered input. It makes two passes separated by DrainGap
// and never spends more than DrainCap doing so.
func (t *Transport) Drain() {
	if t.port == nil {
		return
	}
	deadline := time.Now().Add(t.timing.DrainCap)
	for pass := 0; pass < 2; pass++ {
		for time.Now().Before(deadline) && t.fill() {
			t.pending = nil
		}
		t.pending = nil
		if pass == 0 && t.timing.DrainGap > 0 && time.Now().Before(deadline) {
			time.Sleep(t.timing.DrainGap)
		}
	}
}

// Send writes command followed by the line ending, without waiting.
func (t *Transport) Send(command string) error {
	return t.WriteRaw([]byte(command + LineEnding))
}

// WriteRaw writes bytes as-is.
func (t *Transport) WriteRaw(b []byte) error {
	if t.port == nil {
		return fmt.Errorf("write: %w", linkerr.ErrLinkUnavailable)
	}
	if _, err := t.port.Write(b); err != nil {
		return fmt.Errorf("write: %v: %w", err, linkerr.ErrLinkUnavailable)
	}
	return nil
}

// Exchange sends command and waits up to timeout for expected. An empty
// expected is fire-and-forget and succeeds as soon as the write does.
// Exchange never panics on a missing stream; that is reported as a failed
// result wrapping linkerr.ErrLinkUnavailable.
func (t *Transport) Exchange(ctx context.Context, command, expected string, timeout time.Duration) (res ExchangeResult) {
	start := time.Now()
	res = ExchangeResult{Command: command, Expected: expected}
	defer func() { res.Elapsed = time.Since(start) }()

	if !t.Connected() {
		res.Err = fmt.Errorf("exchange %q: %w", command, linkerr.ErrLinkUnavailable)
		return res
	}

	t.Drain()
	t.log.Debugf("TX: %s", command)
	if err := t.Send(command); err != nil {
		res.Err = fmt.Errorf("exchange %q: %w", command, err)
		return res
	}

	if expected == "" {
		res.OK = true
		return res
	}

	res.Raw = t.collect(ctx, command, expected, timeout)
	res.Response = strings.TrimSpace(string(res.Raw))
	t.log.Debugf("RX: %s", res.Response)

	res.Matched, res.OK = Match(res.Response, command, expected)
	if res.OK {
		return res
	}

	res.HexDump = HexDump(res.Raw, diagnosticBytes)
	switch {
	case len(res.Raw) == 0:
		res.Err = fmt.Errorf("exchange %q: expected %q: %w", command, expected, linkerr.ErrNoResponse)
		t.log.Warnf("%s: no response, check connections and power", command)
	case looksLikeEcho(res.Response, command):
		res.Err = fmt.Errorf("exchange %q: echo without %q: %w", command, expected, linkerr.ErrNoResponse)
		t.log.Warnf("%s: echo received but no %s [%s]", command, expected, res.HexDump)
	default:
		res.Err = fmt.Errorf("exchange %q: expected %q, got %q: %w", command, expected, res.Response, linkerr.ErrUnexpectedResponse)
		t.log.Warnf("%s: unexpected response, possible baud mismatch [%s]", command, res.HexDump)
	}
	return res
}

func looksLikeEcho(response, command string) bool {
	return strings.HasPrefix(strings.ToUpper(response), strings.ToUpper(command)) &&
		!strings.Contains(response, OK)
}

// collect accumulates input until expected matches, the timeout elapses, or
// the response settles.
func (t *Transport) collect(ctx context.Context, command, expected string, timeout time.Duration) []byte {
	var buf []byte
	lastData := time.Now()

	Poll(ctx, time.Now().Add(timeout), t.timing.Quantum, t.yield, func() bool {
		if t.fill() {
			buf = append(buf, t.pending...)
			t.pending = nil
			lastData = time.Now()
			if _, ok := Match(completeLines(buf), command, expected); ok {
				return true
			}
		}
		if t.lost {
			return true
		}
		if len(buf) == 0 {
			return false
		}

		silence := time.Since(lastData)
		if silence < t.timing.Settle {
			return false
		}
		if looksIncomplete(buf) && silence < t.timing.ShortSettle {
			return false
		}
		return true
	})
	return buf
}

// completeLines returns buf up to its last line ending, so a partially
// received line cannot match early.
func completeLines(buf []byte) string {
	i := bytes.LastIndexAny(buf, "\r\n")
	if i < 0 {
		return ""
	}
	return string(buf[:i+1])
}

func looksIncomplete(buf []byte) bool {
	trimmed := bytes.TrimSpace(buf)
	return len(trimmed) <= shortResponseLen &&
		!bytes.Contains(trimmed, []byte(OK)) &&
		!bytes.Contains(trimmed, []byte(Done))
}

// ReadLine waits up to timeout for one complete non-empty line of input.
func (t *Transport) ReadLine(ctx context.Context, timeout time.Duration) (string, bool) {
	var line string
	ok := Poll(ctx, time.Now().Add(timeout), t.timing.Quantum, t.yield, func() bool {
		t.fill()
		for {
			i := bytes.IndexAny(t.pending, "\r\n")
			if i < 0 {
				return false
			}
			candidate := strings.TrimSpace(string(t.pending[:i]))
			t.pending = t.pending[i+1:]
			if candidate != "" {
				line = candidate
				return true
			}
		}
	})
	return line, ok
}

// WaitFor reads lines for up to timeout until match accepts one.
func (t *Transport) WaitFor(ctx context.Context, timeout time.Duration, match func(line string) bool) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return "", fmt.Errorf("wait: %w", linkerr.ErrNoResponse)
		}
		line, ok := t.ReadLine(ctx, remaining)
		if !ok {
			if !t.Connected() {
				return "", fmt.Errorf("wait: %w", linkerr.ErrLinkUnavailable)
			}
			continue
		}
		t.log.Debugf("RX: %s", line)
		if match(line) {
			return line, nil
		}
	}
}

// Sleep waits for d while yielding.
func (t *Transport) Sleep(ctx context.Context, d time.Duration) bool {
	return Sleep(ctx, d, t.yield)
}

// ErrClosed is returned by ports that have been closed.
var ErrClosed = errors.New("port closed")

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atlink

import (
	"io"
	"strings"
	"sync"
)

// ScriptedPort is an in-memory modem for tests. Each complete line written
// to it is answered according to the registered rules. Reads block until a
// reply or injected data is available, like a real serial port.
type ScriptedPort struct {
	mu      sync.Mutex
	reads   chan []byte
	closed  bool
	partial strings.Builder
	written []string
	queued  []scriptRule
	rules   []scriptRule
}

type scriptRule struct {
	prefix  string
	replies []string
	fn      func(line string) []string
}

// NewScriptedPort returns an empty script. Unmatched lines get no reply.
func NewScriptedPort() *ScriptedPort {
	return &ScriptedPort{reads: make(chan []byte, 1024)}
}

// On answers every line starting with prefix with replies, each terminated
// by CRLF.
func (p *ScriptedPort) On(prefix string, replies ...string) *ScriptedPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, scriptRule{prefix: prefix, replies: replies})
	return p
}

// OnFunc answers lines starting with prefix with whatever fn returns.
func (p *ScriptedPort) OnFunc(prefix string, fn func(line string) []string) *ScriptedPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, scriptRule{prefix: prefix, fn: fn})
	return p
}

// Once answers the next line starting with prefix with replies. Queued
// replies take precedence over On rules and are consumed in order.
func (p *ScriptedPort) Once(prefix string, replies ...string) *ScriptedPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, scriptRule{prefix: prefix, replies: replies})
	return p
}

// Inject makes data available to readers as if the modem sent it unprompted.
func (p *ScriptedPort) Inject(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.reads <- []byte(data)
	}
}

// Written returns every complete line written so far.
func (p *ScriptedPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// Count returns how many written lines start with prefix.
func (p *ScriptedPort) Count(prefix string) int {
	n := 0
	for _, line := range p.Written() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func (p *ScriptedPort) Read(b []byte) (int, error) {
	data, ok := <-p.reads
	if !ok {
		return 0, io.EOF
	}
	return copy(b, data), nil
}

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	for _, c := range string(b) {
		if c != '\n' {
			if c != '\r' {
				p.partial.WriteRune(c)
			}
			continue
		}
		line := strings.TrimSpace(p.partial.String())
		p.partial.Reset()
		if line == "" {
			continue
		}
		p.written = append(p.written, line)
		for _, reply := range p.replyLocked(line) {
			p.reads <- []byte(reply + LineEnding)
		}
	}
	return len(b), nil
}

func (p *ScriptedPort) replyLocked(line string) []string {
	for i, r := range p.queued {
		if strings.HasPrefix(line, r.prefix) {
			p.queued = append(p.queued[:i], p.queued[i+1:]...)
			return r.replies
		}
	}
	for _, r := range p.rules {
		if !strings.HasPrefix(line, r.prefix) {
			continue
		}
		if r.fn != nil {
			return r.fn(line)
		}
		return r.replies
	}
	return nil
}

func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.reads)
	return nil
}

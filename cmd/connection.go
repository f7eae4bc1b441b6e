// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/stovelink/internal/config"
	"github.com/Thermoquad/stovelink/pkg/atlink"
)

// Environment variables holding secrets that are never taken from flags.
const (
	passwordEnv     = "STOVELINK_PASSWORD"
	appKeyEnv       = "STOVELINK_APP_KEY"
	mqttPasswordEnv = "STOVELINK_MQTT_PASSWORD"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// webSocketPort carries the modem byte stream in binary WebSocket frames.
type webSocketPort struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *webSocketPort) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		// Text frames are bridge chatter, not modem output
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *webSocketPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *webSocketPort) Close() error {
	w.closed = true
	return w.conn.Close()
}

// openSerial opens the modem port 8N1 at baud.
func openSerial(name string, baud int) (atlink.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s at %d baud: %w", name, baud, err)
	}
	return port, nil
}

// openWebSocket connects to a modem bridge with optional HTTP Basic auth.
func openWebSocket(rawURL, username, password string, skipSSLVerify bool) (atlink.Port, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &webSocketPort{conn: conn}, nil
}

// readSecret returns the value of envVar, or prompts for it on the terminal
// without echo.
func readSecret(envVar, prompt string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.TrimSuffix(strings.TrimSpace(prompt), ":"), err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(line), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(secret), nil
}

// promptAppKey is the config.KeyPrompt used by every command.
func promptAppKey() (string, error) {
	return readSecret(appKeyEnv, "LoRaWAN AppKey: ")
}

// newDialer returns a dialer for the configured link and a description of
// it. A WebSocket bridge ignores the baud rate.
func newDialer(link config.LinkSection) (atlink.Dialer, string, error) {
	if link.URL != "" {
		password := ""
		if link.Username != "" {
			var err error
			if password, err = readSecret(passwordEnv, "Password: "); err != nil {
				return nil, "", err
			}
		}
		dial := atlink.DialerFunc(func(int) (atlink.Port, error) {
			return openWebSocket(link.URL, link.Username, password, link.NoSSLVerify)
		})
		return dial, "WebSocket: " + link.URL, nil
	}

	if link.Port != "" {
		name := link.Port
		dial := atlink.DialerFunc(func(baud int) (atlink.Port, error) {
			return openSerial(name, baud)
		})
		return dial, "Serial: " + name, nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

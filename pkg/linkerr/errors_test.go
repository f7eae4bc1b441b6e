// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package linkerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "OK"},
		{"unavailable", ErrLinkUnavailable, "LoRa: Not available"},
		{"wrapped unavailable", fmt.Errorf("exchange AT: %w", ErrLinkUnavailable), "LoRa: Not available"},
		{"join", fmt.Errorf("join: %w", ErrJoinFailed), "LoRa: Join failed"},
		{"safety", ErrSafetyBlocked, "OFF (Safety)"},
		{"no response", ErrNoResponse, "No response"},
		{"other", errors.New("boom"), "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.err); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAttempts(t *testing.T) {
	a := NewAttempts(ErrNoResponse)
	a.Add("%d baud", 19200)
	a.Add("%d baud", 9600)

	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	err := a.Err("bring-up failed")
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("Err() does not wrap ErrNoResponse: %v", err)
	}
	if !strings.Contains(err.Error(), "19200 baud; 9600 baud") {
		t.Errorf("Err() = %q, want both bauds listed", err.Error())
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import (
	"fmt"
	"time"
)

// Statistics tracks transmission outcomes on one endpoint.
type Statistics struct {
	StartTime time.Time

	// Counters
	Successful uint64
	Failed     uint64
	Retries    uint64

	LastTransmission time.Time
	LastAck          time.Time
	LastError        string
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordSuccess counts a delivered transmission. acked marks that a valid
// response came back.
func (s *Statistics) RecordSuccess(acked bool) {
	now := time.Now()
	s.Successful++
	s.LastTransmission = now
	if acked {
		s.LastAck = now
	}
}

// RecordFailure counts a transmission that exhausted its attempts.
func (s *Statistics) RecordFailure(err error) {
	s.Failed++
	s.LastTransmission = time.Now()
	if err != nil {
		s.LastError = err.Error()
	}
}

// RecordRetry counts one additional attempt.
func (s *Statistics) RecordRetry() {
	s.Retries++
}

// SuccessRate returns the percentage of transmissions that succeeded.
func (s *Statistics) SuccessRate() float64 {
	total := s.Successful + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Successful) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Successful:      %8d\n", s.Successful)
	result += fmt.Sprintf("Failed:          %8d\n", s.Failed)
	result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
	result += fmt.Sprintf("Success Rate:    %7.1f%%\n", s.SuccessRate())

	if !s.LastTransmission.IsZero() {
		result += fmt.Sprintf("Last transmission: %.0fs ago\n", time.Since(s.LastTransmission).Seconds())
	}
	if !s.LastAck.IsZero() {
		result += fmt.Sprintf("Last ACK:          %.0fs ago\n", time.Since(s.LastAck).Seconds())
	}
	if s.LastError != "" {
		result += fmt.Sprintf("Last error: %s\n", s.LastError)
	}

	return result
}

// Reset clears all statistics
func (s *Statistics) Reset() {
	*s = Statistics{StartTime: time.Now()}
}

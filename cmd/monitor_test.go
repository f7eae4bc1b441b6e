// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/stovelink/pkg/journal"
)

type fakeJournal struct {
	recent []journal.Entry
	counts map[string]int
	last   journal.Entry
	ok     bool
	err    error
}

func (f *fakeJournal) Recent(context.Context, int) ([]journal.Entry, error) {
	return f.recent, f.err
}

func (f *fakeJournal) Counts(context.Context) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeJournal) LastRelayState(context.Context) (journal.Entry, bool, error) {
	return f.last, f.ok, nil
}

func TestSortedCounts(t *testing.T) {
	got := sortedCounts(map[string]int{
		journal.KindCommand:    5,
		journal.KindRelayOn:    2,
		journal.KindRelayOff:   2,
		journal.KindModeSwitch: 1,
	})
	want := []string{"COMMAND: 5", "RELAY_OFF: 2", "RELAY_ON: 2", "MODE_SWITCH: 1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sortedCounts() = %v, want %v", got, want)
	}
	if got := sortedCounts(nil); len(got) != 0 {
		t.Errorf("sortedCounts(nil) = %v", got)
	}
}

func TestMonitorShowsJournal(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	fj := &fakeJournal{
		recent: []journal.Entry{
			{Time: at, Kind: journal.KindRelayOn, Message: "Stove ON"},
			{Time: at.Add(-time.Minute), Kind: journal.KindCommand, Message: "STOVE_ON"},
		},
		counts: map[string]int{journal.KindRelayOn: 1, journal.KindCommand: 1},
		last:   journal.Entry{Time: at, Kind: journal.KindRelayOn, Message: "Stove ON"},
		ok:     true,
	}
	m := newMonitorModel(fj, "test.db", 10)

	if view := m.View(); !strings.Contains(view, "Loading journal") {
		t.Errorf("initial view does not show loading:\n%s", view)
	}

	next, _ := m.Update(loadJournal(fj, 10))
	view := next.View()
	for _, want := range []string{"STOVELINK - JOURNAL MONITOR", "test.db", "Relay:", "ON", "COMMAND: 1", "Stove ON"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMonitorKeepsDataOnError(t *testing.T) {
	fj := &fakeJournal{
		recent: []journal.Entry{{Time: time.Now(), Kind: journal.KindSafetyTimeout, Message: "Stove OFF"}},
		counts: map[string]int{journal.KindSafetyTimeout: 1},
		last:   journal.Entry{Time: time.Now(), Kind: journal.KindSafetyTimeout},
		ok:     true,
	}
	m := newMonitorModel(fj, "test.db", 10)
	next, _ := m.Update(loadJournal(fj, 10))

	fj.err = errors.New("database is locked")
	next, _ = next.Update(loadJournal(fj, 10))

	view := next.View()
	if !strings.Contains(view, "database is locked") || !strings.Contains(view, "safety timeout") {
		t.Errorf("view after error:\n%s", view)
	}
	if mm := next.(monitorModel); len(mm.recent) != 1 {
		t.Errorf("recent events dropped after error: %v", mm.recent)
	}
}

func TestMonitorQuit(t *testing.T) {
	m := newMonitorModel(&fakeJournal{}, "test.db", 10)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !next.(monitorModel).quitting {
		t.Error("q did not quit")
	}
}

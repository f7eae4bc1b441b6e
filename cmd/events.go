// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stovelink/internal/config"
	"github.com/Thermoquad/stovelink/pkg/channel"
	"github.com/Thermoquad/stovelink/pkg/journal"
	"github.com/Thermoquad/stovelink/pkg/telemetry"
)

// eventSink fans events out to the journal and the MQTT publisher. Either
// may be absent.
type eventSink struct {
	journal *journal.Journal
	pub     *telemetry.Publisher
	log     *zap.SugaredLogger
}

// openSinks opens whatever the configuration enables. Failing to reach the
// broker is not fatal; the link matters more than the dashboard.
func openSinks(c *config.Config, l *zap.SugaredLogger) (*eventSink, error) {
	sink := &eventSink{log: l}

	if c.Journal.Path != "" {
		db, err := journal.OpenDB(c.Journal.Path)
		if err != nil {
			return nil, err
		}
		sink.journal = journal.New(db, l.Named("journal"))
	}

	if c.MQTT.Broker != "" {
		pub, err := telemetry.Dial(telemetry.Config{
			Broker:   c.MQTT.Broker,
			ClientID: c.MQTT.ClientID,
			Topic:    c.MQTT.Topic,
			Username: c.MQTT.Username,
			Password: os.Getenv(mqttPasswordEnv),
			QoS:      byte(c.MQTT.QoS),
			Timeout:  10 * time.Second,
		}, l.Named("mqtt"))
		if err != nil {
			l.Warnf("status publishing disabled: %v", err)
		} else {
			sink.pub = pub
		}
	}
	return sink, nil
}

// journalKind maps a channel event kind to a journal kind.
func journalKind(kind string) string {
	switch kind {
	case channel.EventModeSwitch:
		return journal.KindModeSwitch
	case channel.EventSendFailed:
		return journal.KindSendFailed
	case channel.EventCommand:
		return journal.KindCommand
	case channel.EventInvalidPayload:
		return journal.KindInvalidPayload
	default:
		return journal.KindLink
	}
}

// record stores one event. It never fails the caller.
func (s *eventSink) record(kind, message string, meta map[string]any) {
	if s.journal != nil {
		s.journal.Record(context.Background(), kind, message, meta)
	}
	if s.pub != nil {
		if err := s.pub.PublishEvent(kind, message); err != nil {
			s.log.Debugf("publish event: %v", err)
		}
	}
}

// observer adapts the sink to channel.Observer.
func (s *eventSink) observer() channel.Observer {
	return func(e channel.Event) {
		s.record(journalKind(e.Kind), e.Detail, map[string]any{"mode": e.Mode.String()})
	}
}

// publishState sends a status snapshot if publishing is enabled.
func (s *eventSink) publishState(v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishState(v); err != nil {
		s.log.Debugf("publish state: %v", err)
	}
}

func (s *eventSink) close() {
	if s.pub != nil {
		s.pub.Close()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warnf("close journal: %v", err)
		}
	}
}

// relayKind returns the journal kind for a relay level.
func relayKind(on bool) string {
	if on {
		return journal.KindRelayOn
	}
	return journal.KindRelayOff
}

func describeRelay(name string, on bool) string {
	if on {
		return name + " ON"
	}
	return name + " OFF"
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/channel"
	"github.com/Thermoquad/stovelink/pkg/journal"
	"github.com/Thermoquad/stovelink/pkg/stove"
)

var (
	controllerSensor string
	controllerManual bool
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the stove supervisor on the controller side",
	Long: `Run the controller loop.

Every control interval the room temperature is read, the desired state is
computed from the hourly schedule with hysteresis, and STOVE_ON or STOVE_OFF
is sent to the relay unit with automatic P2P/LoRaWAN fallback. While the stove
runs STOVE_ON is repeated as a keep-alive so the relay unit's safety
watchdog stays fed.

The temperature is read from --sensor: a file holding degrees F that is
re-read every cycle, or "-" for one reading per line on stdin.

If the modem cannot be brought up, the loop keeps running and retries with
exponential backoff. The stove is commanded off on exit.`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(controllerCmd)
	controllerCmd.Flags().StringVar(&controllerSensor, "sensor", "", "Temperature source file, or - for stdin (overrides supervisor.sensor)")
	controllerCmd.Flags().BoolVar(&controllerManual, "manual", false, "Start with manual override on")
}

func newSupervisor(cmd stove.Commander) *stove.Supervisor {
	return stove.NewSupervisor(cmd,
		stove.WithSchedule(cfg.Schedule()),
		stove.WithThresholds(cfg.Thresholds()),
		stove.WithMinInterval(cfg.Supervisor.MinInterval),
		stove.WithKeepAlive(cfg.Supervisor.KeepAlive),
		stove.WithSafetyMaxTemp(cfg.Supervisor.SafetyMaxTemp),
		stove.WithMaxRetries(cfg.LoRaWAN.MaxRetries),
		stove.WithConfirmed(cfg.LoRaWAN.Confirmed),
		stove.WithSupervisorLogger(lg.Named("supervisor")),
	)
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sensorSpec := cfg.Supervisor.Sensor
	if cmd.Flags().Changed("sensor") {
		sensorSpec = controllerSensor
	}
	sensor := openSensor(sensorSpec)

	sink, err := openSinks(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sink.close()

	sess, err := newSession(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sess.close()

	sender := channel.NewSender(sess.radio,
		channel.WithLogger(lg.Named("sender")),
		channel.WithObserver(sink.observer()),
	)
	sv := newSupervisor(sender)

	fmt.Printf("Stovelink - Controller\n")
	fmt.Printf("Connection: %s\n", sess.info)
	fmt.Printf("Control interval: %v\n", cfg.Supervisor.ControlInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if !sess.ensure(ctx) {
		lg.Warn("starting without a link, commands will fail until it is restored")
		sink.record(journal.KindLink, "controller started without link", nil)
	}

	if controllerManual {
		if current, err := sensor.Read(ctx); err != nil {
			lg.Warnf("manual override needs a temperature reading: %v", err)
		} else if status, err := sv.ToggleManualOverride(ctx, current); err != nil {
			lg.Warnf("manual override: %v", err)
		} else {
			sink.record(journal.KindControl, status, nil)
		}
	}

	ticker := time.NewTicker(cfg.Supervisor.ControlInterval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		sess.ensure(ctx)
		lastStatus = controlCycle(ctx, sv, sensor, sink, lastStatus)

		select {
		case <-ctx.Done():
			return shutdownController(sv, sender, sink)
		case <-ticker.C:
		}
	}
}

// controlCycle runs one supervisor tick and records status changes.
func controlCycle(ctx context.Context, sv *stove.Supervisor, sensor Sensor, sink *eventSink, lastStatus string) string {
	current, err := sensor.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoReading) {
			lg.Warnf("sensor: %v", err)
		}
		return lastStatus
	}

	status := sv.Tick(ctx, current)
	snap := sv.Snapshot()
	lg.Infof("%.1fF (want %.1fF) %s: %s", snap.Temperature, snap.Desired, snap.State, status)

	if status != lastStatus {
		sink.record(journal.KindControl, status, map[string]any{
			"temperature": snap.Temperature,
			"desired":     snap.Desired,
			"state":       snap.State,
		})
	}
	sink.publishState(snap)
	return status
}

func shutdownController(sv *stove.Supervisor, sender *channel.Sender, sink *eventSink) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lg.Info("shutting down, turning stove off")
	err := sv.Shutdown(ctx)
	if err != nil {
		lg.Warnf("stove may still be on: %v", err)
	}
	sink.record(journal.KindControl, sv.Status(), nil)

	fmt.Printf("\n--- Link statistics ---\n%s\n", sender.Statistics())
	return err
}

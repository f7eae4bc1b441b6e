// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/atlink"
	"github.com/Thermoquad/stovelink/pkg/channel"
	"github.com/Thermoquad/stovelink/pkg/journal"
	"github.com/Thermoquad/stovelink/pkg/relay"
	"github.com/Thermoquad/stovelink/pkg/stove"
)

var (
	receiverFallbackAfter time.Duration
	receiverLowPower      bool
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Run the relay unit",
	Long: `Run the relay unit loop.

Commands are polled from the modem, applied to the stove relay and answered.
STOVE_ON honors the relay's minimum change interval; STOVE_OFF is applied
immediately. When no valid command arrives within the watchdog safety window
the relay is forced off and SAFETY_TIMEOUT is sent to the controller.

After --fallback-after without any command the receiver also listens in the
other radio mode once, so a controller that fell back is still heard.

The relay is driven through a GPIO line (relay.driver: gpio) or only logged
(relay.driver: log).`,
	RunE: runReceiver,
}

func init() {
	rootCmd.AddCommand(receiverCmd)
	receiverCmd.Flags().DurationVar(&receiverFallbackAfter, "fallback-after", 2*time.Minute, "Silence before also listening in the other radio mode")
	receiverCmd.Flags().BoolVar(&receiverLowPower, "low-power", false, "Enable modem automatic low power mode")
}

// openActuator returns the configured relay driver.
func openActuator() (relay.Actuator, error) {
	switch cfg.Relay.Driver {
	case "gpio":
		return relay.NewGPIOActuator(cfg.Relay.GPIOChip, cfg.Relay.GPIOLine, cfg.Relay.ActiveLow)
	default:
		return relay.NewLogActuator(lg.Named("actuator")), nil
	}
}

func runReceiver(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := openSinks(cfg, lg.SugaredLogger)
	if err != nil {
		return err
	}
	defer sink.close()

	act, err := openActuator()
	if err != nil {
		return err
	}
	rl, err := relay.New(cfg.Relay.Name, act,
		relay.WithMinInterval(cfg.Relay.MinInterval),
		relay.WithRemoteControl(true),
		relay.WithLogger(lg.Named("relay")),
	)
	if err != nil {
		act.Close()
		return err
	}
	defer func() {
		if err := rl.Close(); err != nil {
			lg.Warnf("close relay: %v", err)
		}
	}()

	// Link waits enforce the safety window; bring-up and joins can block
	// for minutes.
	var wd *stove.Watchdog
	sess, err := newSession(cfg, lg.SugaredLogger, atlink.WithYielder(atlink.YieldFunc(func() {
		if wd != nil {
			wd.Yield()
		}
	})))
	if err != nil {
		return err
	}
	defer sess.close()

	receiver := channel.NewReceiver(sess.radio,
		channel.WithLogger(lg.Named("receiver")),
		channel.WithObserver(sink.observer()),
	)

	ind := stove.NewIndicator(lg.Named("status"))
	rj := &relayJournal{sink: sink, name: rl.Name(), on: rl.IsOn()}
	wd = stove.NewWatchdog(rl, receiver,
		stove.WithSafetyWindow(cfg.Watchdog.SafetyWindow),
		stove.WithWatchdogLogger(lg.Named("watchdog")),
		stove.WithTimeoutHook(func(relayWasOn bool) {
			ind.Set(stove.Timeout)
			if relayWasOn {
				rj.forcedOff(cfg.Watchdog.SafetyWindow)
			}
		}),
	)

	handler := stove.NewRelayHandler(rl, wd,
		stove.WithPlainAck(cfg.Relay.PlainAck),
		stove.WithIndicator(ind),
		stove.WithHandlerLogger(lg.Named("handler")),
		stove.WithAppliedObserver(rj.applied),
	)

	fmt.Printf("Stovelink - Relay Unit\n")
	fmt.Printf("Connection: %s\n", sess.info)
	fmt.Printf("Relay: %s (%s), safety window %v\n", rl.Name(), cfg.Relay.Driver, cfg.Watchdog.SafetyWindow)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := sess.waitForLink(ctx); err != nil {
		// Interrupted before the link came up
		return nil
	}
	if receiverLowPower {
		if err := sess.radio.SetAutoLowPower(ctx, true); err != nil {
			lg.Warnf("auto low power: %v", err)
		}
	}
	ind.Set(stove.Waiting)

	lastCommand := time.Now()
	for ctx.Err() == nil {
		wd.Tick(ctx)

		if !sess.ensure(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(min(sess.retry.Until(time.Now()), time.Second)):
			}
			continue
		}

		fallback := time.Since(lastCommand) >= receiverFallbackAfter
		handled, err := receiver.ServeOnce(ctx, handler, fallback)
		if err != nil {
			lg.Warnf("%v", err)
		}
		if handled || fallback {
			lastCommand = time.Now()
		}
	}

	lg.Info("shutting down, relay off")
	fmt.Printf("\n--- Link statistics ---\n%s\n", receiver.Statistics())
	fmt.Printf("Safety timeouts: %d\n", wd.Fired())
	return nil
}

// relayJournal records relay transitions, whether caused by a command or
// by the watchdog.
type relayJournal struct {
	sink *eventSink
	name string
	on   bool
}

func (j *relayJournal) applied(a stove.Applied) {
	if a.RelayOn == j.on {
		return
	}
	j.on = a.RelayOn
	j.sink.record(relayKind(a.RelayOn), describeRelay(j.name, a.RelayOn), map[string]any{
		"command":  string(a.Command),
		"response": string(a.Response),
		"message":  a.Message,
	})
}

func (j *relayJournal) forcedOff(window time.Duration) {
	j.on = false
	j.sink.record(journal.KindSafetyTimeout, describeRelay(j.name, false), map[string]any{
		"window": window.String(),
	})
}

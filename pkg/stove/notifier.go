// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stove

import (
	"context"

	"github.com/Thermoquad/stovelink/pkg/protocol"
)

//go:generate go tool mockgen -source=notifier.go -destination=mock_notifier.go -package=stove

// Notifier sends an unsolicited response to the controller. Delivery is
// best effort. *channel.Receiver satisfies it through SendResponse.
type Notifier interface {
	SendResponse(ctx context.Context, resp protocol.Response) error
}

// Switch is the part of the relay the watchdog needs.
type Switch interface {
	IsOn() bool
	ForceState(on bool) error
}

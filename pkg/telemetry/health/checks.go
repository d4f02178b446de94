package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingCheck reports the database reachable.
func PingCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}
}

// ChannelCheck fails while ch reports anything but connected.
func ChannelCheck(ch scheduler.Channel) CheckFunc {
	return func(ctx context.Context) error {
		if status := ch.Status(); status != scheduler.ChannelConnected {
			return fmt.Errorf("channel %s", status)
		}
		return nil
	}
}

// RunningCheck fails while running reports false.
func RunningCheck(running func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if !running() {
			return errors.New("not running")
		}
		return nil
	}
}

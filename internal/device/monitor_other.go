//go:build !linux

package device

import (
	"context"
	"errors"
	"log/slog"
)

// Monitor is unavailable off Linux; Start always fails so callers poll.
type Monitor struct{}

func NewMonitor(*slog.Logger, func(Change)) *Monitor { return &Monitor{} }

func (m *Monitor) Start(context.Context) error {
	return errors.New("device monitoring requires udev")
}

func (m *Monitor) Stop() {}

func (m *Monitor) Running() bool { return false }

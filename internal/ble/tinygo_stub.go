//go:build !linux && !darwin

package ble

import (
	"context"
	"errors"
	"log/slog"
)

var errUnsupportedPlatform = errors.New("ble: bluetooth is only supported on Linux and macOS")

// TinyGoAdapter is unavailable on this platform; every call fails.
type TinyGoAdapter struct{}

// NewTinyGoAdapter returns an adapter whose calls fail.
func NewTinyGoAdapter(string) *TinyGoAdapter {
	slog.Warn("[BLE] Bluetooth is only supported on Linux and macOS")
	return &TinyGoAdapter{}
}

func (*TinyGoAdapter) Enable() error { return errUnsupportedPlatform }

func (*TinyGoAdapter) Scan(context.Context, func(Advertisement)) error {
	return errUnsupportedPlatform
}

func (*TinyGoAdapter) Connect(context.Context, string) (Connection, error) {
	return nil, errUnsupportedPlatform
}

var _ Adapter = (*TinyGoAdapter)(nil)

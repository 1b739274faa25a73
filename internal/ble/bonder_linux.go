//go:build linux

package ble

// NewPlatformBonder returns the bonding service of the host: BlueZ over
// D-Bus on Linux.
func NewPlatformBonder(adapter string) Bonder {
	return NewBlueZBonder(adapter)
}

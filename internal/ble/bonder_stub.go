//go:build !linux

package ble

// NewPlatformBonder returns the bonding service of the host. Outside Linux
// the OS bonds implicitly and adapter is ignored.
func NewPlatformBonder(string) Bonder {
	return ImplicitBonder{}
}

// Package ble drives the Bluetooth Low Energy link to the belt. It wraps the
// platform radio behind small interfaces and builds the GATT operation queue,
// the scanner, the pairing coordinator and the connection state machine on
// top of them.
package ble

import "context"

// Characteristic represents a discovered GATT characteristic.
type Characteristic interface {
	// UUID returns the lower-case 128-bit UUID of the characteristic.
	UUID() string
	// Read reads the current value.
	Read() ([]byte, error)
	// Write sends data, waiting for the peripheral's acknowledgement when
	// withResponse is set.
	Write(data []byte, withResponse bool) error
	// Subscribe enables notifications and registers the callback for them.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
	// MTU returns the negotiated ATT MTU of the link.
	MTU() (int, error)
}

// Advertisement is a single advertising report seen while scanning.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Address returns the peer address the connection was opened with.
	Address() string
	// DiscoverServices runs service discovery and returns the UUIDs found.
	DiscoverServices() ([]string, error)
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to found until ctx is done. It returns
	// nil when ctx ends the scan and an error when the scan cannot start
	// or aborts.
	Scan(ctx context.Context, found func(Advertisement)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

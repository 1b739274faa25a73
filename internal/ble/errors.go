package ble

import "errors"

var (
	// ErrScanFailed reports that the adapter could not scan.
	ErrScanFailed = errors.New("ble: scan failed")
	// ErrNoDeviceFound reports that a scan-and-connect scan window elapsed
	// without a matching belt.
	ErrNoDeviceFound = errors.New("ble: no device found")
	// ErrConnectionFailed reports that the initial connection budget ran out.
	ErrConnectionFailed = errors.New("ble: connection failed")
	// ErrConnectionLost reports that an established connection could not be
	// recovered.
	ErrConnectionLost = errors.New("ble: connection lost")
	ErrPairingFailed  = errors.New("ble: pairing failed")
	// ErrHandshakeFailed triggers a reconnect; it only surfaces wrapped in
	// ErrConnectionFailed or ErrConnectionLost.
	ErrHandshakeFailed    = errors.New("ble: handshake failed")
	ErrOperationTimeout   = errors.New("ble: operation timed out")
	ErrOperationCancelled = errors.New("ble: operation cancelled")
	ErrNotConnected       = errors.New("ble: not connected")
	// ErrBusy reports a request that conflicts with work already in progress.
	ErrBusy = errors.New("ble: busy")

	errLinkDown           = errors.New("link down")
	errConnectTimeout     = errors.New("connect timeout")
	errDiscoveryTimeout   = errors.New("service discovery timeout")
	errSupervisionTimeout = errors.New("supervision timeout")
)

var errPartialDiscovery = errors.New("required service missing")

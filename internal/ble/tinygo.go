//go:build linux || darwin

package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// readBufferSize covers the largest characteristic value of the profile.
const readBufferSize = 512

// TinyGoAdapter implements Adapter with tinygo-org/bluetooth (BlueZ on
// Linux, CoreBluetooth on macOS). On macOS addresses are CoreBluetooth UUIDs
// rather than MAC addresses.
type TinyGoAdapter struct {
	id      string
	adapter *bluetooth.Adapter

	// mu protects enabled and the connections map.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by upper-case address
}

// NewTinyGoAdapter returns an adapter backed by the named radio. The name
// only selects a radio on Linux ("hci0" when empty).
func NewTinyGoAdapter(id string) *TinyGoAdapter {
	if id == "" {
		id = defaultBlueZAdapter
	}
	return &TinyGoAdapter{
		id:          id,
		adapter:     platformAdapter(id),
		connections: make(map[string]*tinyGoConnection),
	}
}

// Enable powers on the radio once; later calls are no-ops.
func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	a.enabled = true

	// The adapter-level handler is the only disconnect signal the library
	// offers; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := strings.ToUpper(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[key]
		delete(a.connections, key)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, found func(Advertisement)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		found(Advertisement{
			Name:    result.LocalName(),
			Address: strings.ToUpper(result.Address.String()),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// The library's Connect blocks with its own timeout and cannot be
	// cancelled; ctx only bounds how long we wait for it.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Drop a connection that completes after we gave up.
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, r.err)
		}
		conn := &tinyGoConnection{adapterID: a.id, address: address, device: r.device}
		a.mu.Lock()
		a.connections[strings.ToUpper(address)] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

var (
	_ Adapter        = (*TinyGoAdapter)(nil)
	_ Characteristic = (*tinyGoCharacteristic)(nil)
)

type tinyGoConnection struct {
	adapterID string
	address   string
	device    bluetooth.Device

	mu           sync.Mutex
	services     map[string]bluetooth.DeviceService
	disconnectCb func()
}

func (c *tinyGoConnection) Address() string { return c.address }

func (c *tinyGoConnection) DiscoverServices() ([]string, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[string]bluetooth.DeviceService, len(svcs))
	uuids := make([]string, 0, len(svcs))
	for _, s := range svcs {
		u := strings.ToLower(s.UUID().String())
		c.services[u] = s
		uuids = append(uuids, u)
	}
	return uuids, nil
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	svc, ok := c.services[strings.ToLower(serviceUUID)]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ble: service %s not discovered", serviceUUID)
	}
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{
		uuid:      strings.ToLower(charUUID),
		adapterID: c.adapterID,
		address:   c.address,
		char:      chars[0],
	}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// tinyGoCharacteristic implements Characteristic. Write lives in the
// platform files since the library only offers write-with-response on some
// platforms.
type tinyGoCharacteristic struct {
	uuid      string
	adapterID string
	address   string
	char      bluetooth.DeviceCharacteristic

	gatt gattWriter
}

func (c *tinyGoCharacteristic) UUID() string { return c.uuid }

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(cb)
}

func (c *tinyGoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}

func (c *tinyGoCharacteristic) MTU() (int, error) {
	mtu, err := c.char.GetMTU()
	return int(mtu), err
}

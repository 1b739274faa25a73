package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus            = "org.bluez"
	bluezDevice         = "org.bluez.Device1"
	bluezGattChar       = "org.bluez.GattCharacteristic1"
	dbusObjectManager   = "org.freedesktop.DBus.ObjectManager"
	dbusProperties      = "org.freedesktop.DBus.Properties"
	bluezAlreadyExists  = "org.bluez.Error.AlreadyExists"
	defaultBlueZAdapter = "hci0"
)

// BlueZBonder implements Bonder on top of the BlueZ D-Bus API.
type BlueZBonder struct {
	adapter string

	mu       sync.Mutex
	conn     *dbus.Conn
	nextID   uint64
	watchers map[string]map[uint64]func(BondState) // keyed by device path
}

// NewBlueZBonder returns a bonder for the given BlueZ adapter ("hci0" when
// empty). The system bus is connected lazily.
func NewBlueZBonder(adapter string) *BlueZBonder {
	if adapter == "" {
		adapter = defaultBlueZAdapter
	}
	return &BlueZBonder{adapter: adapter, watchers: make(map[string]map[uint64]func(BondState))}
}

func (b *BlueZBonder) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	// Shared connection; it is never closed.
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connect system bus: %w", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *BlueZBonder) devicePath(address string) dbus.ObjectPath {
	return bluezDevicePath(b.adapter, address)
}

// bluezDevicePath converts "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func bluezDevicePath(adapter, address string) dbus.ObjectPath {
	dev := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, dev))
}

// managedObjects is the reply of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// characteristicPath finds the GattCharacteristic1 object with the given UUID
// below device.
func characteristicPath(objects managedObjects, device dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[bluezGattChar]
		if !ok {
			continue
		}
		if u, _ := props["UUID"].Value().(string); strings.EqualFold(u, uuid) {
			return path, true
		}
	}
	return "", false
}

// Bonded reads Device1.Paired.
func (b *BlueZBonder) Bonded(address string) (bool, error) {
	conn, err := b.bus()
	if err != nil {
		return false, err
	}
	v, err := conn.Object(bluezBus, b.devicePath(address)).GetProperty(bluezDevice + ".Paired")
	if err != nil {
		return false, fmt.Errorf("ble: read paired property of %s: %w", address, err)
	}
	paired, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("ble: paired property of %s has type %T", address, v.Value())
	}
	return paired, nil
}

// Bond calls Device1.Pair asynchronously. The reply is forwarded to the
// watchers of address.
func (b *BlueZBonder) Bond(address string) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	path := b.devicePath(address)
	call := conn.Object(bluezBus, path).Go(bluezDevice+".Pair", 0, nil)
	if call.Err != nil {
		return fmt.Errorf("ble: pair %s: %w", address, call.Err)
	}
	go func() {
		<-call.Done
		var dbusErr dbus.Error
		switch {
		case call.Err == nil:
			b.notify(path, Bonded)
		case errors.As(call.Err, &dbusErr) && dbusErr.Name == bluezAlreadyExists:
			b.notify(path, Bonded)
		default:
			slog.Warn("[BLE] pair call failed", "address", address, "error", call.Err)
			b.notify(path, BondNone)
		}
	}()
	return nil
}

// WatchBond follows PropertiesChanged signals of the device for Paired.
func (b *BlueZBonder) WatchBond(address string, fn func(BondState)) (func(), error) {
	conn, err := b.bus()
	if err != nil {
		return nil, err
	}
	path := b.devicePath(address)
	rule := fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, path)
	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return nil, fmt.Errorf("ble: add signal match: %w", call.Err)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	key := string(path)
	if b.watchers[key] == nil {
		b.watchers[key] = make(map[uint64]func(BondState))
	}
	b.watchers[key][id] = fn
	b.mu.Unlock()

	sigCh := make(chan *dbus.Signal, 16)
	conn.Signal(sigCh)
	stopCh := make(chan struct{})
	go func() {
		defer conn.RemoveSignal(sigCh)
		for {
			select {
			case <-stopCh:
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if st, ok := pairedChange(sig, path); ok {
					fn(st)
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopCh)
			b.mu.Lock()
			delete(b.watchers[key], id)
			if len(b.watchers[key]) == 0 {
				delete(b.watchers, key)
			}
			b.mu.Unlock()
			go conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
		})
	}
	return stop, nil
}

func (b *BlueZBonder) notify(path dbus.ObjectPath, st BondState) {
	b.mu.Lock()
	fns := make([]func(BondState), 0, len(b.watchers[string(path)]))
	for _, fn := range b.watchers[string(path)] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// pairedChange extracts a Paired transition from a PropertiesChanged signal.
func pairedChange(sig *dbus.Signal, path dbus.ObjectPath) (BondState, bool) {
	if sig == nil || sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return BondNone, false
	}
	if iface, _ := sig.Body[0].(string); iface != bluezDevice {
		return BondNone, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return BondNone, false
	}
	v, ok := changed["Paired"]
	if !ok {
		return BondNone, false
	}
	if paired, _ := v.Value().(bool); paired {
		return Bonded, true
	}
	return BondNone, true
}

var _ Bonder = (*BlueZBonder)(nil)

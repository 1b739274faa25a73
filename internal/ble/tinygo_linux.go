//go:build linux

package ble

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

func platformAdapter(id string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(id)
}

// gattWriter resolves the BlueZ object of a characteristic once. The library
// only exposes write-without-response on Linux, so requests that need an
// acknowledgement go through GattCharacteristic1.WriteValue directly.
type gattWriter struct {
	once sync.Once
	obj  dbus.BusObject
	err  error
}

func (g *gattWriter) object(adapterID, address, uuid string) (dbus.BusObject, error) {
	g.once.Do(func() {
		conn, err := dbus.SystemBus()
		if err != nil {
			g.err = fmt.Errorf("ble: connect system bus: %w", err)
			return
		}
		objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
		err = conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0).Store(&objects)
		if err != nil {
			g.err = fmt.Errorf("ble: list bluez objects: %w", err)
			return
		}
		path, ok := characteristicPath(objects, bluezDevicePath(adapterID, address), uuid)
		if !ok {
			g.err = fmt.Errorf("ble: characteristic %s of %s not exported by bluez", uuid, address)
			return
		}
		g.obj = conn.Object(bluezBus, path)
	})
	return g.obj, g.err
}

func (c *tinyGoCharacteristic) Write(data []byte, withResponse bool) error {
	if !withResponse {
		_, err := c.char.WriteWithoutResponse(data)
		return err
	}
	obj, err := c.gatt.object(c.adapterID, c.address, c.uuid)
	if err != nil {
		return err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	if err := obj.Call(bluezGattChar+".WriteValue", 0, data, opts).Err; err != nil {
		return fmt.Errorf("ble: write %s: %w", c.uuid, err)
	}
	return nil
}

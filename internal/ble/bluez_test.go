package ble

import (
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestBlueZDevicePath(t *testing.T) {
	b := NewBlueZBonder("")
	if got := b.devicePath("aa:bb:cc:dd:ee:ff"); got != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Errorf("devicePath() = %q", got)
	}
	b = NewBlueZBonder("hci1")
	if got := b.devicePath("AA:BB:CC:DD:EE:FF"); got != "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF" {
		t.Errorf("devicePath() = %q", got)
	}
}

func TestPairedChange(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	changed := func(iface string, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Path: path,
			Name: dbusProperties + ".PropertiesChanged",
			Body: []interface{}{iface, props, []string{}},
		}
	}

	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   BondState
		wantOK bool
	}{
		{"paired", changed(bluezDevice, map[string]dbus.Variant{"Paired": dbus.MakeVariant(true)}), Bonded, true},
		{"unpaired", changed(bluezDevice, map[string]dbus.Variant{"Paired": dbus.MakeVariant(false)}), BondNone, true},
		{"other property", changed(bluezDevice, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}), BondNone, false},
		{"other interface", changed("org.bluez.GattCharacteristic1", map[string]dbus.Variant{"Paired": dbus.MakeVariant(true)}), BondNone, false},
		{"other device", &dbus.Signal{Path: "/org/bluez/hci0/dev_11", Name: dbusProperties + ".PropertiesChanged"}, BondNone, false},
		{"nil", nil, BondNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pairedChange(tt.sig, path)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("pairedChange() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCharacteristicPath(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	char := func(uuid string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezGattChar: {"UUID": dbus.MakeVariant(uuid)},
		}
	}
	other := dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")
	objects := managedObjects{
		dev:                           {bluezDevice: {}},
		dev + "/service000a":          {"org.bluez.GattService1": {"UUID": dbus.MakeVariant(ControlServiceUUID)}},
		dev + "/service000a/char000b": char(ParamRequestUUID),
		dev + "/service000a/char000d": char(ButtonPressUUID),
		other + "/service000a/char0b": char(ParamRequestUUID),
	}

	tests := []struct {
		name   string
		uuid   string
		want   dbus.ObjectPath
		wantOK bool
	}{
		{"found", ParamRequestUUID, dev + "/service000a/char000b", true},
		{"case insensitive", strings.ToUpper(ButtonPressUUID), dev + "/service000a/char000d", true},
		{"service is not a characteristic", ControlServiceUUID, "", false},
		{"missing", "0000ffff-0000-1000-8000-00805f9b34fb", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := characteristicPath(objects, dev, tt.uuid)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("characteristicPath() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

package ble

import "tinygo.org/x/bluetooth"

// CoreBluetooth has a single radio.
func platformAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}

type gattWriter struct{}

func (c *tinyGoCharacteristic) Write(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = c.char.Write(data)
	} else {
		_, err = c.char.WriteWithoutResponse(data)
	}
	return err
}

package ble

// ImplicitBonder is the Bonder for stacks that bond on demand when an
// encrypted characteristic is first used, as CoreBluetooth does. Every peer
// reports as bonded.
type ImplicitBonder struct{}

func (ImplicitBonder) Bonded(string) (bool, error) { return true, nil }

func (ImplicitBonder) Bond(string) error { return nil }

// WatchBond never reports a change.
func (ImplicitBonder) WatchBond(string, func(BondState)) (func(), error) {
	return func() {}, nil
}

var _ Bonder = ImplicitBonder{}

package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// OpKind is the kind of GATT request an Operation performs.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpWriteNoResponse
	OpSetNotify
	OpRequestMTU
	// OpWriteAwaitNotify writes a request and completes with the first
	// notification on NotifyChar accepted by Expect.
	OpWriteAwaitNotify
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpWriteNoResponse:
		return "write_no_response"
	case OpSetNotify:
		return "set_notify"
	case OpRequestMTU:
		return "request_mtu"
	case OpWriteAwaitNotify:
		return "write_await_notify"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// OpState is the lifecycle state of an Operation.
type OpState int

const (
	OpNotStarted OpState = iota
	OpStarted
	OpSuccess
	OpFailed
	OpCancelled
	OpTimedOut
)

func (s OpState) String() string {
	switch s {
	case OpNotStarted:
		return "not_started"
	case OpStarted:
		return "started"
	case OpSuccess:
		return "success"
	case OpFailed:
		return "failed"
	case OpCancelled:
		return "cancelled"
	case OpTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("OpState(%d)", int(s))
}

// Terminal reports whether s is a final state.
func (s OpState) Terminal() bool {
	return s >= OpSuccess
}

// Operation is a single request queued on the link. Build one with the New*
// constructors, hand it to Queue.Enqueue and observe it through Done or the
// queue's completion listeners. An Operation can be enqueued once.
type Operation struct {
	Kind       OpKind
	Char       string
	Data       []byte
	Enable     bool
	NotifyChar string
	Expect     func(data []byte) bool
	// Timeout overrides the queue default when positive.
	Timeout time.Duration

	mu       sync.Mutex
	id       uint64
	state    OpState
	result   []byte
	err      error
	done     chan struct{}
	enqueued bool
}

func newOperation(kind OpKind, char string) *Operation {
	return &Operation{Kind: kind, Char: char, done: make(chan struct{})}
}

// NewRead reads char.
func NewRead(char string) *Operation {
	return newOperation(OpRead, char)
}

// NewWrite writes data to char with response.
func NewWrite(char string, data []byte) *Operation {
	op := newOperation(OpWrite, char)
	op.Data = data
	return op
}

// NewWriteNoResponse writes data to char without waiting for an
// acknowledgement from the peripheral.
func NewWriteNoResponse(char string, data []byte) *Operation {
	op := newOperation(OpWriteNoResponse, char)
	op.Data = data
	return op
}

// NewSetNotify enables or disables notifications on char.
func NewSetNotify(char string, enable bool) *Operation {
	op := newOperation(OpSetNotify, char)
	op.Enable = enable
	return op
}

// NewRequestMTU reads the negotiated MTU through char.
func NewRequestMTU(char string) *Operation {
	return newOperation(OpRequestMTU, char)
}

// NewWriteAwaitNotify writes data to char and completes with the first
// notification on notifyChar for which expect returns true. A nil expect
// accepts any notification. notifyChar must already be subscribed. expect
// runs with the queue locked and must not call back into it.
func NewWriteAwaitNotify(char string, data []byte, notifyChar string, expect func([]byte) bool) *Operation {
	op := newOperation(OpWriteAwaitNotify, char)
	op.Data = data
	op.NotifyChar = notifyChar
	op.Expect = expect
	return op
}

// State returns the current lifecycle state.
func (op *Operation) State() OpState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Result returns the value read, the matching notification, or the MTU as a
// little-endian uint16. It is nil until the operation succeeds.
func (op *Operation) Result() []byte {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// Err returns the failure cause of a terminated operation.
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// Done is closed once the operation reaches a terminal state.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait blocks until the operation terminates or ctx is done.
func (op *Operation) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-op.done:
		return op.Result(), op.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s %s", op.Kind, CharacteristicName(op.Char))
}

func (op *Operation) valid() bool {
	switch op.Kind {
	case OpRead, OpRequestMTU, OpSetNotify:
		return op.Char != ""
	case OpWrite, OpWriteNoResponse:
		return op.Char != "" && len(op.Data) > 0
	case OpWriteAwaitNotify:
		return op.Char != "" && len(op.Data) > 0 && op.NotifyChar != ""
	}
	return false
}

func (op *Operation) setState(s OpState) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

// finish records the outcome and closes done. It reports false if the
// operation had already terminated.
func (op *Operation) finish(s OpState, result []byte, err error) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state.Terminal() {
		return false
	}
	op.state = s
	op.result = result
	op.err = err
	close(op.done)
	return true
}

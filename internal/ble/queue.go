package ble

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

// DefaultOperationTimeout bounds a single GATT operation.
const DefaultOperationTimeout = 5 * time.Second

const opTimerKey = "queue/operation"

// Notification is a value notified by the peripheral on a subscribed
// characteristic.
type Notification struct {
	Char string
	Data []byte
}

// Queue serializes GATT operations against one link. At most one operation
// is started at a time; each started operation is bounded by a timeout.
// Completion and notification listeners are always invoked with no queue
// lock held.
type Queue struct {
	timers  *timer.Scheduler
	timeout time.Duration

	mu      sync.Mutex
	chars   map[string]Characteristic // nil while detached
	session uint64
	pending []*Operation
	running *Operation
	nextID  uint64

	completed     event.Broadcaster[*Operation]
	notifications event.Broadcaster[Notification]
}

// NewQueue returns a detached queue. A non-positive timeout selects
// DefaultOperationTimeout.
func NewQueue(timers *timer.Scheduler, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Queue{timers: timers, timeout: timeout}
}

// OnOperationDone registers fn for every terminated operation.
func (q *Queue) OnOperationDone(fn func(*Operation)) (unsubscribe func()) {
	return q.completed.Subscribe(fn)
}

// OnNotification registers fn for every notification on the attached link.
func (q *Queue) OnNotification(fn func(Notification)) (unsubscribe func()) {
	return q.notifications.Subscribe(fn)
}

// Attach binds the queue to the characteristics of a freshly discovered
// link. Anything still queued from a previous link is cancelled.
func (q *Queue) Attach(chars []Characteristic) {
	q.Detach()

	m := make(map[string]Characteristic, len(chars))
	for _, c := range chars {
		m[strings.ToLower(c.UUID())] = c
	}
	q.mu.Lock()
	q.chars = m
	q.session++
	q.mu.Unlock()
}

// Detach unbinds the queue from its link and cancels every queued and
// running operation. Listeners receive one completion per cancelled
// operation, delivered as a single batch. It returns the number cancelled.
func (q *Queue) Detach() int {
	q.mu.Lock()
	var ops []*Operation
	if q.running != nil {
		ops = append(ops, q.running)
	}
	ops = append(ops, q.pending...)
	q.running = nil
	q.pending = nil
	q.chars = nil
	q.session++
	q.timers.Cancel(opTimerKey)
	for _, op := range ops {
		op.finish(OpCancelled, nil, ErrOperationCancelled)
	}
	q.mu.Unlock()

	if len(ops) > 0 {
		slog.Debug("[BLE] operations cancelled", "count", len(ops))
	}
	q.completed.PublishAll(ops)
	return len(ops)
}

// Attached reports whether the queue is bound to a link.
func (q *Queue) Attached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.chars != nil
}

// Len returns the number of queued and running operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.running != nil {
		n++
	}
	return n
}

// Enqueue appends op to the queue. It returns false if the queue is not
// attached, op is malformed, op targets a characteristic the link does not
// have, or op was enqueued before.
func (q *Queue) Enqueue(op *Operation) bool {
	if op == nil || op.done == nil || !op.valid() {
		return false
	}
	op.Char = strings.ToLower(op.Char)
	op.NotifyChar = strings.ToLower(op.NotifyChar)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.chars == nil {
		return false
	}
	if _, ok := q.chars[op.Char]; !ok {
		return false
	}
	if op.Kind == OpWriteAwaitNotify {
		if _, ok := q.chars[op.NotifyChar]; !ok {
			return false
		}
	}

	op.mu.Lock()
	if op.enqueued {
		op.mu.Unlock()
		return false
	}
	op.enqueued = true
	op.mu.Unlock()

	q.nextID++
	op.id = q.nextID
	q.pending = append(q.pending, op)
	q.startNextLocked()
	return true
}

// startNextLocked starts the head of the queue if nothing is running.
func (q *Queue) startNextLocked() {
	if q.running != nil || len(q.pending) == 0 {
		return
	}
	op := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	op.setState(OpStarted)
	q.running = op
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = q.timeout
	}
	q.timers.Schedule(opTimerKey, timeout, func() { q.expire(op) })

	slog.Debug("[BLE] operation started", "id", op.id, "op", op)
	go q.execute(op, q.chars[op.Char], q.session)
}

// execute performs the blocking platform call for op.
func (q *Queue) execute(op *Operation, c Characteristic, session uint64) {
	var (
		result []byte
		err    error
	)
	switch op.Kind {
	case OpRead:
		result, err = c.Read()
	case OpWrite:
		err = c.Write(op.Data, true)
	case OpWriteNoResponse:
		err = c.Write(op.Data, false)
	case OpWriteAwaitNotify:
		// Success is reported by the matching notification.
		if err = c.Write(op.Data, true); err == nil {
			return
		}
	case OpSetNotify:
		if op.Enable {
			uuid := op.Char
			err = c.Subscribe(func(data []byte) { q.notify(session, uuid, data) })
		} else {
			err = c.Unsubscribe()
		}
	case OpRequestMTU:
		var mtu int
		if mtu, err = c.MTU(); err == nil {
			result = binary.LittleEndian.AppendUint16(nil, uint16(mtu))
		}
	}
	q.complete(op, result, err)
}

func (q *Queue) complete(op *Operation, result []byte, err error) {
	q.mu.Lock()
	if q.running != op {
		// Timed out or cancelled before the platform answered.
		q.mu.Unlock()
		return
	}
	state := OpSuccess
	if err != nil {
		state = OpFailed
		err = fmt.Errorf("ble: %s: %w", op, err)
	}
	q.finishRunningLocked(state, result, err)
	q.mu.Unlock()

	if err != nil {
		slog.Debug("[BLE] operation failed", "id", op.id, "op", op, "error", err)
	}
	q.completed.Publish(op)
}

func (q *Queue) expire(op *Operation) {
	q.mu.Lock()
	if q.running != op {
		q.mu.Unlock()
		return
	}
	q.finishRunningLocked(OpTimedOut, nil, fmt.Errorf("%w: %s", ErrOperationTimeout, op))
	q.mu.Unlock()

	slog.Warn("[BLE] operation timed out", "id", op.id, "op", op)
	q.completed.Publish(op)
}

func (q *Queue) finishRunningLocked(state OpState, result []byte, err error) {
	op := q.running
	q.running = nil
	q.timers.Cancel(opTimerKey)
	op.finish(state, result, err)
	q.startNextLocked()
}

// notify routes a notification from the platform to the running operation
// awaiting it, then to the notification listeners.
func (q *Queue) notify(session uint64, uuid string, data []byte) {
	data = append([]byte(nil), data...)

	q.mu.Lock()
	if session != q.session || q.chars == nil {
		q.mu.Unlock()
		return
	}
	var matched *Operation
	if op := q.running; op != nil && op.Kind == OpWriteAwaitNotify && op.NotifyChar == uuid &&
		(op.Expect == nil || op.Expect(data)) {
		matched = op
		q.finishRunningLocked(OpSuccess, data, nil)
	}
	q.mu.Unlock()

	q.notifications.Publish(Notification{Char: uuid, Data: data})
	if matched != nil {
		q.completed.Publish(matched)
	}
}

// startedCount returns how many tracked operations are in OpStarted.
func (q *Queue) startedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	if q.running != nil && q.running.State() == OpStarted {
		n++
	}
	for _, op := range q.pending {
		if op.State() == OpStarted {
			n++
		}
	}
	return n
}

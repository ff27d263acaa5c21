package usb

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Transfer records one BulkWrite seen by a Fake.
type Transfer struct {
	Endpoint uint8
	Data     []byte
	Timeout  time.Duration
}

type readResult struct {
	data []byte
	err  error
}

// Fake is an in-memory device used to drive bulk transfers in tests
// without touching usbdevfs. Reads are served from a queue filled with
// Push, PushTimeout and PushError; writes are recorded.
type Fake struct {
	mu        sync.Mutex
	inbox     chan readResult
	done      chan struct{}
	hungUp    bool
	closed    bool
	writes    []Transfer
	writeErr  error
	onWrite   func(Transfer)
	readCalls int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		inbox: make(chan readResult, 256),
		done:  make(chan struct{}),
	}
}

// Push queues data to be returned by one BulkRead.
func (f *Fake) Push(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.inbox <- readResult{data: cp}
}

// PushTimeout queues a timed out BulkRead.
func (f *Fake) PushTimeout() {
	f.inbox <- readResult{err: timeoutError{op: "bulk read"}}
}

// PushError queues a failed BulkRead.
func (f *Fake) PushError(err error) {
	f.inbox <- readResult{err: err}
}

// Hangup simulates unplugging: queued reads are still served, after that
// every read fails with ErrDisconnected.
func (f *Fake) Hangup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hungUp || f.closed {
		return
	}
	f.hungUp = true
	close(f.done)
}

// FailWrites makes every following BulkWrite return err. Nil clears it.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// OnWrite registers fn to run after each successful BulkWrite, e.g. to
// queue the reply to a request.
func (f *Fake) OnWrite(fn func(Transfer)) {
	f.mu.Lock()
	f.onWrite = fn
	f.mu.Unlock()
}

// Writes returns the transfers written so far.
func (f *Fake) Writes() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transfer, len(f.writes))
	copy(out, f.writes)
	return out
}

// Reads returns how many BulkRead calls were made.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

func (f *Fake) BulkWrite(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	if endpoint&EndpointDirIn != 0 {
		return 0, fmt.Errorf("bulk write: endpoint %#02x is IN", endpoint)
	}
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return 0, ErrClosed
	case f.hungUp:
		f.mu.Unlock()
		return 0, fmt.Errorf("bulk write: %w", ErrDisconnected)
	case f.writeErr != nil:
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	t := Transfer{Endpoint: endpoint, Data: append([]byte(nil), p...), Timeout: timeout}
	f.writes = append(f.writes, t)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	return len(p), nil
}

func (f *Fake) BulkRead(endpoint uint8, p []byte, timeout time.Duration) (int, error) {
	if endpoint&EndpointDirIn == 0 {
		return 0, fmt.Errorf("bulk read: endpoint %#02x is OUT", endpoint)
	}
	f.mu.Lock()
	closed := f.closed
	f.readCalls++
	f.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	select {
	case r := <-f.inbox:
		return deliver(p, r)
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-f.inbox:
		return deliver(p, r)
	case <-f.done:
		select {
		case r := <-f.inbox:
			return deliver(p, r)
		default:
		}
		f.mu.Lock()
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("bulk read: %w", ErrDisconnected)
	case <-expired:
		return 0, timeoutError{op: "bulk read"}
	}
}

func deliver(p []byte, r readResult) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(r.data) > len(p) {
		return 0, errors.New("bulk read: overflow")
	}
	return copy(p, r.data), nil
}

// Close wakes blocked readers with ErrClosed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.hungUp {
		close(f.done)
	}
	return nil
}

var _ interface {
	BulkWrite(uint8, []byte, time.Duration) (int, error)
	BulkRead(uint8, []byte, time.Duration) (int, error)
	Close() error
} = (*Fake)(nil)

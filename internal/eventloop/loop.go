//go:build linux

// Package eventloop implements a single-threaded, level-triggered
// reactor over epoll: file descriptors register read/write interest,
// timers fire in deadline order, and arbitrary callbacks can be deferred
// to "later this turn" — the same three primitives the original
// rtpmidid daemon built its poller around, translated onto
// golang.org/x/sys/unix instead of raw C epoll calls.
package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// idleMaxWait bounds how long a single epoll_wait call blocks when no fd
// or timer activity is expected, so Run notices a cancelled context
// promptly even if the wake eventfd write were ever missed.
const idleMaxWait = 1 * time.Second

// Handler is called with the ready file descriptor when epoll reports it
// readable or writable, depending on how it was registered.
type Handler func(fd int)

type registration struct {
	fd      int
	events  uint32
	onRead  Handler
	onWrite Handler
}

// Loop is a single-threaded reactor. It must be driven by exactly one
// goroutine calling Run; Close may be called from any goroutine to ask
// that goroutine to return.
type Loop struct {
	epfd     int
	wakeFd   int
	handlers map[int]*registration
	timers   timerHeap
	deferred []func()
	closed   atomic.Bool
	nextID   uint64
}

// New creates a Loop with its own epoll instance and self-pipe wake fd.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventloop: eventfd: %w", err)
	}
	l := &Loop{
		epfd:     epfd,
		wakeFd:   wakeFd,
		handlers: make(map[int]*registration),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("eventloop: epoll_ctl add wake fd: %w", err)
	}
	return l, nil
}

// Direction selects which epoll events a registration is interested in.
type Direction int

const (
	Read Direction = iota
	Write
	ReadWrite
)

// Listener is a handle to a registered file descriptor. Stop deregisters
// it; it is safe to call more than once.
type Listener struct {
	loop    *Loop
	fd      int
	stopped bool
}

// Stop deregisters the file descriptor this listener was created for.
func (l *Listener) Stop() {
	if l == nil || l.stopped {
		return
	}
	l.stopped = true
	l.loop.removeFD(l.fd)
}

// AddFD registers fd for the given direction(s); h is invoked from the
// Run goroutine whenever epoll reports activity matching dir.
func (l *Loop) AddFD(fd int, dir Direction, h Handler) (*Listener, error) {
	if _, exists := l.handlers[fd]; exists {
		return nil, fmt.Errorf("eventloop: fd %d already registered", fd)
	}
	reg := &registration{fd: fd}
	switch dir {
	case Read:
		reg.events = unix.EPOLLIN
		reg.onRead = h
	case Write:
		reg.events = unix.EPOLLOUT
		reg.onWrite = h
	case ReadWrite:
		reg.events = unix.EPOLLIN | unix.EPOLLOUT
		reg.onRead = h
		reg.onWrite = h
	default:
		return nil, fmt.Errorf("eventloop: unknown direction %d", dir)
	}
	ev := unix.EpollEvent{Events: reg.events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("eventloop: add fd %d: %w", fd, err)
	}
	l.handlers[fd] = reg
	return &Listener{loop: l, fd: fd}, nil
}

// AddReader is shorthand for AddFD(fd, Read, h).
func (l *Loop) AddReader(fd int, h Handler) (*Listener, error) {
	return l.AddFD(fd, Read, h)
}

// AddWriter is shorthand for AddFD(fd, Write, h).
func (l *Loop) AddWriter(fd int, h Handler) (*Listener, error) {
	return l.AddFD(fd, Write, h)
}

func (l *Loop) removeFD(fd int) {
	if _, ok := l.handlers[fd]; !ok {
		return
	}
	delete(l.handlers, fd)
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// CallLater appends f to the queue of deferred callbacks, each run once.
// A loop turn drains the queue at its start, after its fd callbacks,
// and again after its timer callbacks.
func (l *Loop) CallLater(f func()) {
	l.deferred = append(l.deferred, f)
}

func (l *Loop) drainDeferred() {
	for len(l.deferred) > 0 {
		batch := l.deferred
		l.deferred = nil
		for _, f := range batch {
			f()
		}
	}
}

// Close asks the Run goroutine to stop at the next opportunity. Safe to
// call from any goroutine, any number of times.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	var one [8]byte
	one[0] = 1
	unix.Write(l.wakeFd, one[:])
	return nil
}

// Release closes the underlying epoll and eventfd descriptors. Call it
// once, after Run has returned.
func (l *Loop) Release() error {
	err1 := unix.Close(l.epfd)
	err2 := unix.Close(l.wakeFd)
	if err1 != nil {
		return err1
	}
	return err2
}

// Run drives the loop until ctx is cancelled or Close is called. It must
// not be called from more than one goroutine concurrently.
func (l *Loop) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()

	for !l.closed.Load() {
		if err := l.runOnce(idleMaxWait); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// runOnce performs exactly one epoll_wait plus its associated timer and
// deferred-call processing. It is split out from Run so tests can drive
// the loop deterministically one turn at a time.
func (l *Loop) runOnce(maxWait time.Duration) error {
	l.drainDeferred()

	timeout := maxWait
	if l.timers.Len() > 0 {
		until := time.Until(l.timers[0].deadline)
		if until < 0 {
			until = 0
		}
		if until < timeout {
			timeout = until
		}
	}
	msec := int(timeout / time.Millisecond)
	if timeout > 0 && msec == 0 {
		msec = 1
	}
	if msec < 0 {
		msec = 0
	}

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(l.epfd, events, msec)
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("eventloop: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == l.wakeFd {
			var buf [8]byte
			unix.Read(l.wakeFd, buf[:])
			continue
		}
		reg, ok := l.handlers[fd]
		if !ok {
			continue
		}
		if events[i].Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 && reg.onRead != nil {
			reg.onRead(fd)
		}
		if events[i].Events&unix.EPOLLOUT != 0 && reg.onWrite != nil {
			reg.onWrite(fd)
		}
	}

	l.drainDeferred()
	l.fireDueTimers()
	l.drainDeferred()
	return nil
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		item := heap.Pop(&l.timers).(*timerItem)
		if !item.cancelled {
			item.cb()
		}
	}
}

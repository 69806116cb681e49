// Package scanner drives a single QR check-in: scan a machine's code, look
// the machine up, gate on availability and, once the user confirms, ask the
// backend to start a laundry order.
//
// A Session owns no persistence. Claiming a machine is delegated to
// Backend.StartLaundryOrder, which is expected to be atomic; the session
// never re-checks or retries it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tphummel/laundry_scan/internal/models"
)

var (
	// ErrBusy is returned when an operation conflicts with the current view or
	// an in-flight backend call.
	ErrBusy = errors.New("scanner: busy")
	// ErrNoMachine is returned by Confirm when no machine is selected.
	ErrNoMachine = errors.New("scanner: no machine selected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scanner: session closed")

	errNoOrder = errors.New("scanner: backend returned no order")
)

// Decoder is a camera-bound QR decode loop.
type Decoder interface {
	// Start acquires the camera and begins decoding. onResult may be called
	// from another goroutine, possibly more than once.
	Start(ctx context.Context, onResult func(payload string)) error
	// Stop releases the camera. It must be idempotent, must not block on an
	// in-progress onResult call, and must be safe after a failed Start.
	Stop()
}

// Backend is the machine directory and order service.
type Backend interface {
	// MachineByQRCode returns the machine whose QR payload equals payload
	// exactly, or models.ErrMachineNotFound.
	MachineByQRCode(ctx context.Context, payload string) (*models.Machine, error)
	// StartLaundryOrder atomically creates an order and claims the machine.
	StartLaundryOrder(ctx context.Context, machineID, serviceType string) (*models.Order, error)
}

// View is the mutually exclusive screen a Session is showing.
type View int

const (
	ViewIdle View = iota
	ViewScanning
	ViewConfirm
)

func (v View) String() string {
	switch v {
	case ViewScanning:
		return "scanning"
	case ViewConfirm:
		return "confirm"
	default:
		return "idle"
	}
}

// State is a point-in-time copy of a Session.
type State struct {
	View     View
	Machine  *models.Machine
	Scanning bool
	Loading  bool
}

// Config wires a Session to its collaborators.
type Config struct {
	NewDecoder func() Decoder
	Backend    Backend
	Notifier   Notifier
	// ServiceType sent with every order; defaults to models.DefaultServiceType.
	ServiceType string
	Logger      *slog.Logger
}

// Session is the scan-to-order flow for one user. It is safe for concurrent
// use; decode callbacks arrive on the decoder's goroutine.
type Session struct {
	newDecoder  func() Decoder
	backend     Backend
	notifier    Notifier
	serviceType string
	logger      *slog.Logger

	mu       sync.Mutex
	decoder  Decoder
	unwatch  chan struct{}
	scanning bool
	loading  bool
	machine  *models.Machine
	closed   bool
}

// New returns an idle Session.
func New(cfg Config) *Session {
	s := &Session{
		newDecoder:  cfg.NewDecoder,
		backend:     cfg.Backend,
		notifier:    cfg.Notifier,
		serviceType: cfg.ServiceType,
		logger:      cfg.Logger,
	}
	if s.serviceType == "" {
		s.serviceType = models.DefaultServiceType
	}
	if s.notifier == nil {
		s.notifier = NotifierFunc(func(Notification) {})
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// StartScanning acquires a decoder and starts scanning. When the camera
// cannot be started the decoder is released, a "Camera access denied"
// notification is emitted and the session returns to idle. Cancelling ctx
// stops the scan and returns the session to idle.
func (s *Session) StartScanning(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.scanning || s.loading || s.machine != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	d := s.newDecoder()
	s.decoder = d
	s.scanning = true
	s.mu.Unlock()

	err := d.Start(ctx, s.resultHandler(ctx, d))

	s.mu.Lock()
	// d may have been detached while it was starting.
	closed, stale := s.closed, s.decoder != d
	if err != nil {
		if !stale {
			s.release()
		}
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if stale {
			return nil
		}
		s.logger.Warn("camera start failed", "error", err)
		s.notifier.Notify(cameraDenied())
		return fmt.Errorf("start camera: %w", err)
	}
	if stale {
		s.mu.Unlock()
		d.Stop()
		if closed {
			return ErrClosed
		}
		return nil
	}
	unwatch := make(chan struct{})
	s.unwatch = unwatch
	s.mu.Unlock()

	go s.watch(ctx, d, unwatch)
	return nil
}

// watch releases d once ctx is done, unless d was released first.
func (s *Session) watch(ctx context.Context, d Decoder, unwatch <-chan struct{}) {
	select {
	case <-unwatch:
	case <-ctx.Done():
		s.mu.Lock()
		if s.decoder == d {
			s.logger.Debug("scan cancelled", "error", ctx.Err())
			s.release()
		}
		s.mu.Unlock()
	}
}

// StopScanning releases the active decoder, if any. It is idempotent.
func (s *Session) StopScanning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

// release stops and detaches the decoder. Callers hold s.mu.
func (s *Session) release() {
	if s.decoder != nil {
		s.decoder.Stop()
		s.decoder = nil
	}
	if s.unwatch != nil {
		close(s.unwatch)
		s.unwatch = nil
	}
	s.scanning = false
}

// resultHandler returns the decode callback bound to d. Only the first
// result delivered while d is still the active decoder is acted on.
func (s *Session) resultHandler(ctx context.Context, d Decoder) func(string) {
	return func(payload string) {
		s.mu.Lock()
		if s.decoder != d {
			s.mu.Unlock()
			return
		}
		s.release()
		s.loading = true
		s.mu.Unlock()

		s.lookup(ctx, payload)
	}
}

func (s *Session) lookup(ctx context.Context, payload string) {
	m, err := s.backend.MachineByQRCode(ctx, payload)

	var n Notification
	s.mu.Lock()
	s.loading = false
	switch {
	case s.closed:
		s.mu.Unlock()
		return
	case errors.Is(err, models.ErrMachineNotFound):
		n = invalidCode()
	case err != nil:
		s.logger.Error("machine lookup failed", "error", err)
		n = processingError()
	case !m.Available():
		n = machineUnavailable(m)
	default:
		s.machine = m
		n = machineScanned(m)
	}
	s.mu.Unlock()

	s.notifier.Notify(n)
}

// Confirm starts a laundry order on the selected machine. On success the
// selection is cleared; on failure it is kept so the user can retry. The
// backend is called at most once per Confirm and never while another
// Confirm is in flight.
func (s *Session) Confirm(ctx context.Context) (*models.Order, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.machine == nil {
		s.mu.Unlock()
		return nil, ErrNoMachine
	}
	if s.loading {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	m := s.machine
	s.loading = true
	s.mu.Unlock()

	o, err := s.backend.StartLaundryOrder(ctx, m.ID, s.serviceType)
	if err == nil && o == nil {
		err = errNoOrder
	}

	s.mu.Lock()
	s.loading = false
	var n Notification
	if err != nil {
		s.logger.Error("start laundry order failed", "machine_id", m.ID, "error", err)
		n = startFailed()
	} else {
		if s.machine == m {
			s.machine = nil
		}
		s.logger.Info("laundry order started", "machine_id", m.ID, "order_id", o.ID)
		n = laundryStarted(m, o, s.serviceType)
	}
	s.mu.Unlock()

	s.notifier.Notify(n)
	if err != nil {
		return nil, fmt.Errorf("start laundry order: %w", err)
	}
	return o, nil
}

// Cancel drops the selected machine without contacting the backend.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrBusy
	}
	s.machine = nil
	return nil
}

// Close tears the session down, releasing the camera if it is active.
// Results arriving afterwards are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.release()
	s.machine = nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Scanning: s.scanning,
		Loading:  s.loading,
	}
	if s.machine != nil {
		m := *s.machine
		st.Machine = &m
	}
	switch {
	case s.scanning:
		st.View = ViewScanning
	case s.machine != nil:
		st.View = ViewConfirm
	default:
		st.View = ViewIdle
	}
	return st
}

// View returns the screen the session is currently showing.
func (s *Session) View() View {
	return s.Snapshot().View
}

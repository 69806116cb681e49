package scanner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tphummel/laundry_scan/internal/models"
	"github.com/tphummel/laundry_scan/internal/scanner"
)

// fakeDecoder records camera acquisition and lets tests deliver results.
type fakeDecoder struct {
	startErr error
	// When set, Start blocks until the gate is closed; entered is signalled first.
	startGate chan struct{}
	entered   chan struct{}

	mu       sync.Mutex
	onResult func(string)
	active   bool
	acquired int
	releases int
}

func (d *fakeDecoder) Start(ctx context.Context, onResult func(string)) error {
	if d.startGate != nil {
		d.entered <- struct{}{}
		<-d.startGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.onResult = onResult
	d.active = true
	d.acquired++
	return nil
}

func (d *fakeDecoder) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.active = false
		d.releases++
	}
}

// Emit delivers payload synchronously, the way a decode loop would.
func (d *fakeDecoder) Emit(payload string) {
	d.mu.Lock()
	cb := d.onResult
	d.mu.Unlock()
	cb(payload)
}

func (d *fakeDecoder) counts() (acquired, releases int, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.releases, d.active
}

type startCall struct {
	machineID   string
	serviceType string
}

type fakeBackend struct {
	machines  map[string]*models.Machine
	lookupErr error
	startErr  error
	nilOrder  bool

	// When set, calls block until the gate is closed; entered is signalled first.
	lookupGate chan struct{}
	startGate  chan struct{}
	entered    chan struct{}

	mu         sync.Mutex
	lookups    []string
	startCalls []startCall
}

func (b *fakeBackend) MachineByQRCode(ctx context.Context, payload string) (*models.Machine, error) {
	b.mu.Lock()
	b.lookups = append(b.lookups, payload)
	b.mu.Unlock()
	if b.lookupGate != nil {
		b.entered <- struct{}{}
		<-b.lookupGate
	}
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	m, ok := b.machines[payload]
	if !ok {
		return nil, models.ErrMachineNotFound
	}
	cp := *m
	return &cp, nil
}

func (b *fakeBackend) StartLaundryOrder(ctx context.Context, machineID, serviceType string) (*models.Order, error) {
	b.mu.Lock()
	b.startCalls = append(b.startCalls, startCall{machineID, serviceType})
	b.mu.Unlock()
	if b.startGate != nil {
		b.entered <- struct{}{}
		<-b.startGate
	}
	if b.startErr != nil {
		return nil, b.startErr
	}
	if b.nilOrder {
		return nil, nil
	}
	now := time.Now().UTC()
	return &models.Order{
		ID:                  "order-1",
		MachineID:           machineID,
		ServiceType:         serviceType,
		Status:              models.OrderInProgress,
		StartedAt:           now,
		EstimatedCompletion: now.Add(45 * time.Minute),
	}, nil
}

func (b *fakeBackend) calls() ([]string, []startCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lookups...), append([]startCall(nil), b.startCalls...)
}

type recorder struct {
	mu    sync.Mutex
	notes []scanner.Notification
}

func (r *recorder) Notify(n scanner.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []scanner.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scanner.Notification(nil), r.notes...)
}

func (r *recorder) last(t *testing.T) scanner.Notification {
	t.Helper()
	notes := r.all()
	if len(notes) == 0 {
		t.Fatal("expected a notification, got none")
	}
	return notes[len(notes)-1]
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		machines: map[string]*models.Machine{
			"QR-W1": {ID: "w1", Name: "Washer 1", Type: "Washer", Status: models.StatusAvailable, QRCode: "QR-W1"},
			"QR-W3": {ID: "w3", Name: "Washer 3", Type: "Washer", Status: models.StatusInUse, QRCode: "QR-W3"},
		},
	}
}

type fixture struct {
	session  *scanner.Session
	backend  *fakeBackend
	notes    *recorder
	decoders []*fakeDecoder
	startErr error
}

func newFixture(t *testing.T, b *fakeBackend) *fixture {
	t.Helper()
	f := &fixture{backend: b, notes: &recorder{}}
	f.session = scanner.New(scanner.Config{
		NewDecoder: func() scanner.Decoder {
			d := &fakeDecoder{startErr: f.startErr}
			f.decoders = append(f.decoders, d)
			return d
		},
		Backend:  b,
		Notifier: f.notes,
	})
	t.Cleanup(f.session.Close)
	return f
}

// scan starts scanning and delivers payload, returning the decoder used.
func (f *fixture) scan(t *testing.T, payload string) *fakeDecoder {
	t.Helper()
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	d := f.decoders[len(f.decoders)-1]
	d.Emit(payload)
	return d
}

// gatedSession returns a session whose single decoder blocks in Start.
func gatedSession(t *testing.T) (*scanner.Session, *fakeDecoder, *recorder) {
	t.Helper()
	d := &fakeDecoder{startGate: make(chan struct{}), entered: make(chan struct{}, 1)}
	notes := &recorder{}
	s := scanner.New(scanner.Config{
		NewDecoder: func() scanner.Decoder { return d },
		Backend:    newBackend(),
		Notifier:   notes,
	})
	t.Cleanup(s.Close)
	return s, d, notes
}

func waitForView(t *testing.T, s *scanner.Session, want scanner.View) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.View() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.View(); got != want {
		t.Fatalf("view: got %v, want %v", got, want)
	}
}

func TestStartScanning_ShowsScanningView(t *testing.T) {
	f := newFixture(t, newBackend())

	if got := f.session.View(); got != scanner.ViewIdle {
		t.Fatalf("initial view: got %v, want idle", got)
	}
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	st := f.session.Snapshot()
	if st.View != scanner.ViewScanning || !st.Scanning {
		t.Errorf("state: got %+v, want scanning", st)
	}
	if _, _, active := f.decoders[0].counts(); !active {
		t.Error("camera should be active while scanning")
	}
}

func TestScan_UnknownCode(t *testing.T) {
	f := newFixture(t, newBackend())
	d := f.scan(t, "QR-NOPE")

	n := f.notes.last(t)
	if n.Title != "Invalid QR Code" {
		t.Errorf("title: got %q, want Invalid QR Code", n.Title)
	}
	if n.Variant != scanner.VariantDestructive {
		t.Errorf("variant: got %v, want destructive", n.Variant)
	}
	st := f.session.Snapshot()
	if st.Machine != nil {
		t.Errorf("machine should not be selected, got %+v", st.Machine)
	}
	if st.View != scanner.ViewIdle {
		t.Errorf("view: got %v, want idle", st.View)
	}
	if _, releases, active := d.counts(); active || releases != 1 {
		t.Errorf("camera: active=%v releases=%d, want released once", active, releases)
	}
}

func TestScan_UnavailableMachine(t *testing.T) {
	f := newFixture(t, newBackend())
	f.scan(t, "QR-W3")

	n := f.notes.last(t)
	if n.Title != "Machine unavailable" {
		t.Errorf("title: got %q", n.Title)
	}
	if n.Description != "Machine Washer 3 is currently In Use" {
		t.Errorf("description: got %q", n.Description)
	}
	if f.session.Snapshot().Machine != nil {
		t.Error("unavailable machine must not be selected")
	}
}

func TestScan_AvailableMachine(t *testing.T) {
	f := newFixture(t, newBackend())
	f.scan(t, "QR-W1")

	st := f.session.Snapshot()
	if st.Machine == nil || st.Machine.ID != "w1" {
		t.Fatalf("selected machine: got %+v, want w1", st.Machine)
	}
	if st.View != scanner.ViewConfirm {
		t.Errorf("view: got %v, want confirm", st.View)
	}
	if st.Scanning {
		t.Error("scanning and a selected machine are mutually exclusive")
	}
	n := f.notes.last(t)
	if n.Title != "Machine scanned successfully!" || n.Description != "Ready to start laundry on Washer 1" {
		t.Errorf("notification: got %+v", n)
	}
}

func TestScan_LookupError(t *testing.T) {
	b := newBackend()
	b.lookupErr = errors.New("connection refused")
	f := newFixture(t, b)
	f.scan(t, "QR-W1")

	if n := f.notes.last(t); n.Title != "Error processing QR code" {
		t.Errorf("title: got %q", n.Title)
	}
	if f.session.Snapshot().Machine != nil {
		t.Error("machine must not be selected after a lookup error")
	}
}

func TestScan_OnlyFirstResultIsUsed(t *testing.T) {
	f := newFixture(t, newBackend())
	d := f.scan(t, "QR-W1")
	d.Emit("QR-W3")

	lookups, _ := f.backend.calls()
	if len(lookups) != 1 || lookups[0] != "QR-W1" {
		t.Errorf("lookups: got %v, want [QR-W1]", lookups)
	}
	if len(f.notes.all()) != 1 {
		t.Errorf("notifications: got %d, want 1", len(f.notes.all()))
	}
}

func TestStartScanning_CameraDenied(t *testing.T) {
	f := newFixture(t, newBackend())
	f.startErr = errors.New("permission denied")

	err := f.session.StartScanning(context.Background())
	if err == nil {
		t.Fatal("expected error from StartScanning")
	}
	if n := f.notes.last(t); n.Title != "Camera access denied" {
		t.Errorf("title: got %q", n.Title)
	}
	st := f.session.Snapshot()
	if st.View != scanner.ViewIdle || st.Scanning {
		t.Errorf("state after denial: got %+v, want idle", st)
	}

	// The session is usable again once the camera is allowed.
	f.startErr = nil
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Errorf("retry StartScanning: %v", err)
	}
}

func TestStartScanning_RefusedWhileBusy(t *testing.T) {
	f := newFixture(t, newBackend())
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.session.StartScanning(context.Background()); !errors.Is(err, scanner.ErrBusy) {
		t.Errorf("second StartScanning: got %v, want ErrBusy", err)
	}
	f.decoders[0].Emit("QR-W1")

	if err := f.session.StartScanning(context.Background()); !errors.Is(err, scanner.ErrBusy) {
		t.Errorf("StartScanning with machine selected: got %v, want ErrBusy", err)
	}
	if len(f.decoders) != 1 {
		t.Errorf("decoders created: got %d, want 1", len(f.decoders))
	}
}

func TestStopScanning_ReleasesCameraOnce(t *testing.T) {
	f := newFixture(t, newBackend())
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.session.StopScanning()
	f.session.StopScanning()
	f.session.Close()

	acquired, releases, active := f.decoders[0].counts()
	if acquired != 1 || releases != 1 || active {
		t.Errorf("camera: acquired=%d releases=%d active=%v, want 1/1/false", acquired, releases, active)
	}
	if got := f.session.View(); got != scanner.ViewIdle {
		t.Errorf("view: got %v, want idle", got)
	}
}

func TestClose_ReleasesActiveCamera(t *testing.T) {
	f := newFixture(t, newBackend())
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.session.Close()

	if _, releases, active := f.decoders[0].counts(); active || releases != 1 {
		t.Errorf("camera after Close: active=%v releases=%d", active, releases)
	}
	if err := f.session.StartScanning(context.Background()); !errors.Is(err, scanner.ErrClosed) {
		t.Errorf("StartScanning after Close: got %v, want ErrClosed", err)
	}

	// A late result from the released decoder is ignored.
	f.decoders[0].Emit("QR-W1")
	if lookups, _ := f.backend.calls(); len(lookups) != 0 {
		t.Errorf("lookups after Close: got %v", lookups)
	}
}

func TestClose_DuringSlowCameraStart(t *testing.T) {
	s, d, notes := gatedSession(t)

	errc := make(chan error, 1)
	go func() { errc <- s.StartScanning(context.Background()) }()
	<-d.entered
	s.Close()
	close(d.startGate)

	if err := <-errc; !errors.Is(err, scanner.ErrClosed) {
		t.Errorf("StartScanning: got %v, want ErrClosed", err)
	}
	acquired, releases, active := d.counts()
	if active || acquired != releases {
		t.Errorf("camera: acquired=%d releases=%d active=%v, want released", acquired, releases, active)
	}
	if got := s.View(); got != scanner.ViewIdle {
		t.Errorf("view: got %v, want idle", got)
	}
	if n := len(notes.all()); n != 0 {
		t.Errorf("notifications: got %d, want 0", n)
	}
}

func TestStopScanning_DuringSlowCameraStart(t *testing.T) {
	s, d, _ := gatedSession(t)

	errc := make(chan error, 1)
	go func() { errc <- s.StartScanning(context.Background()) }()
	<-d.entered
	s.StopScanning()
	close(d.startGate)

	if err := <-errc; err != nil {
		t.Errorf("StartScanning: got %v, want nil", err)
	}
	if _, _, active := d.counts(); active {
		t.Error("camera left active after StopScanning")
	}
	if got := s.View(); got != scanner.ViewIdle {
		t.Errorf("view: got %v, want idle", got)
	}
}

func TestStartScanning_ContextCancelReturnsToIdle(t *testing.T) {
	f := newFixture(t, newBackend())
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.session.StartScanning(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitForView(t, f.session, scanner.ViewIdle)

	if _, releases, active := f.decoders[0].counts(); active || releases != 1 {
		t.Errorf("camera: active=%v releases=%d, want released once", active, releases)
	}
	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
	if got := f.session.View(); got != scanner.ViewScanning {
		t.Errorf("view after restart: got %v, want scanning", got)
	}
}

func TestClose_DuringLookupDropsResult(t *testing.T) {
	b := newBackend()
	b.lookupGate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	f := newFixture(t, b)

	if err := f.session.StartScanning(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		f.decoders[0].Emit("QR-W1")
		close(done)
	}()
	<-b.entered
	f.session.Close()
	close(b.lookupGate)
	<-done

	if m := f.session.Snapshot().Machine; m != nil {
		t.Errorf("machine selected after Close: %+v", m)
	}
	if n := len(f.notes.all()); n != 0 {
		t.Errorf("notifications after Close: got %d, want 0", n)
	}
}

func TestConfirm_Success(t *testing.T) {
	f := newFixture(t, newBackend())
	f.scan(t, "QR-W1")

	o, err := f.session.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if o.ID != "order-1" {
		t.Errorf("order ID: got %q", o.ID)
	}

	_, starts := f.backend.calls()
	if len(starts) != 1 {
		t.Fatalf("StartLaundryOrder calls: got %d, want 1", len(starts))
	}
	if starts[0] != (startCall{"w1", "Quick Wash"}) {
		t.Errorf("call: got %+v, want w1/Quick Wash", starts[0])
	}

	st := f.session.Snapshot()
	if st.Machine != nil || st.View != scanner.ViewIdle {
		t.Errorf("state after success: got %+v, want idle with no machine", st)
	}
	n := f.notes.last(t)
	if n.Title != "Laundry started!" {
		t.Errorf("title: got %q", n.Title)
	}
	if !strings.Contains(n.Description, "Washer 1") || !strings.Contains(n.Description, "45 minutes") {
		t.Errorf("description: got %q", n.Description)
	}
}

func TestConfirm_FailureKeepsMachine(t *testing.T) {
	b := newBackend()
	b.startErr = models.ErrMachineUnavailable
	f := newFixture(t, b)
	f.scan(t, "QR-W1")

	if _, err := f.session.Confirm(context.Background()); !errors.Is(err, models.ErrMachineUnavailable) {
		t.Fatalf("Confirm: got %v, want ErrMachineUnavailable", err)
	}
	if n := f.notes.last(t); n.Title != "Error starting laundry" {
		t.Errorf("title: got %q", n.Title)
	}
	st := f.session.Snapshot()
	if st.Machine == nil || st.Machine.ID != "w1" {
		t.Fatalf("machine should be retained for retry, got %+v", st.Machine)
	}
	if st.Loading {
		t.Error("loading should be cleared after failure")
	}

	// Nothing is retried automatically; a second explicit Confirm retries.
	b.startErr = nil
	if _, err := f.session.Confirm(context.Background()); err != nil {
		t.Fatalf("retry Confirm: %v", err)
	}
	if _, starts := b.calls(); len(starts) != 2 {
		t.Errorf("StartLaundryOrder calls: got %d, want 2", len(starts))
	}
}

func TestConfirm_NoOrderFromBackend(t *testing.T) {
	b := newBackend()
	b.nilOrder = true
	f := newFixture(t, b)
	f.scan(t, "QR-W1")

	o, err := f.session.Confirm(context.Background())
	if err == nil || o != nil {
		t.Fatalf("Confirm: got (%v, %v), want an error", o, err)
	}
	if n := f.notes.last(t); n.Title != "Error starting laundry" {
		t.Errorf("title: got %q", n.Title)
	}
	if m := f.session.Snapshot().Machine; m == nil || m.ID != "w1" {
		t.Errorf("machine should be retained, got %+v", m)
	}
}

func TestConfirm_NoMachine(t *testing.T) {
	f := newFixture(t, newBackend())
	if _, err := f.session.Confirm(context.Background()); !errors.Is(err, scanner.ErrNoMachine) {
		t.Errorf("got %v, want ErrNoMachine", err)
	}
	if _, starts := f.backend.calls(); len(starts) != 0 {
		t.Errorf("backend called without a machine: %v", starts)
	}
}

func TestConfirm_DuplicateSubmissionBlocked(t *testing.T) {
	b := newBackend()
	b.startGate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	f := newFixture(t, b)
	f.scan(t, "QR-W1")

	errc := make(chan error, 1)
	go func() {
		_, err := f.session.Confirm(context.Background())
		errc <- err
	}()
	<-b.entered

	if !f.session.Snapshot().Loading {
		t.Error("loading should be set while the order is in flight")
	}
	if _, err := f.session.Confirm(context.Background()); !errors.Is(err, scanner.ErrBusy) {
		t.Errorf("second Confirm: got %v, want ErrBusy", err)
	}
	if err := f.session.Cancel(); !errors.Is(err, scanner.ErrBusy) {
		t.Errorf("Cancel while loading: got %v, want ErrBusy", err)
	}

	close(b.startGate)
	if err := <-errc; err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	if _, starts := b.calls(); len(starts) != 1 {
		t.Errorf("StartLaundryOrder calls: got %d, want 1", len(starts))
	}
}

func TestConfirm_CustomServiceType(t *testing.T) {
	b := newBackend()
	notes := &recorder{}
	d := &fakeDecoder{}
	s := scanner.New(scanner.Config{
		NewDecoder:  func() scanner.Decoder { return d },
		Backend:     b,
		Notifier:    notes,
		ServiceType: "Heavy Duty",
	})
	defer s.Close()

	if err := s.StartScanning(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.Emit("QR-W1")
	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, starts := b.calls(); starts[0].serviceType != "Heavy Duty" {
		t.Errorf("service type: got %q", starts[0].serviceType)
	}
}

func TestCancel_ClearsWithoutBackendCall(t *testing.T) {
	f := newFixture(t, newBackend())
	f.scan(t, "QR-W1")

	if err := f.session.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st := f.session.Snapshot()
	if st.Machine != nil || st.View != scanner.ViewIdle {
		t.Errorf("state after cancel: got %+v", st)
	}
	if _, starts := f.backend.calls(); len(starts) != 0 {
		t.Errorf("Cancel must not call the backend, got %v", starts)
	}
}

func TestView_String(t *testing.T) {
	tests := map[scanner.View]string{
		scanner.ViewIdle:     "idle",
		scanner.ViewScanning: "scanning",
		scanner.ViewConfirm:  "confirm",
	}
	for v, want := range tests {
		if got := v.String(); got != want {
			t.Errorf("View(%d).String(): got %q, want %q", v, got, want)
		}
	}
}

package scanner

import (
	"fmt"
	"time"

	"github.com/tphummel/laundry_scan/internal/models"
)

// Variant selects how a notification is presented.
type Variant int

const (
	VariantDefault Variant = iota
	VariantDestructive
)

func (v Variant) String() string {
	if v == VariantDestructive {
		return "destructive"
	}
	return "default"
}

// Notification is a user-facing message emitted by a Session.
type Notification struct {
	Title       string
	Description string
	Variant     Variant
}

// Notifier receives notifications. Notify is never called with the session
// lock held, so implementations may call back into the Session.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

func cameraDenied() Notification {
	return Notification{
		Title:       "Camera access denied",
		Description: "Please allow camera access to scan QR codes",
		Variant:     VariantDestructive,
	}
}

func invalidCode() Notification {
	return Notification{
		Title:       "Invalid QR Code",
		Description: "This QR code is not associated with any machine",
		Variant:     VariantDestructive,
	}
}

func machineUnavailable(m *models.Machine) Notification {
	return Notification{
		Title:       "Machine unavailable",
		Description: fmt.Sprintf("Machine %s is currently %s", m.Name, m.Status),
		Variant:     VariantDestructive,
	}
}

func processingError() Notification {
	return Notification{
		Title:       "Error processing QR code",
		Description: "Could not process the QR code. Please try again.",
		Variant:     VariantDestructive,
	}
}

func machineScanned(m *models.Machine) Notification {
	return Notification{
		Title:       "Machine scanned successfully!",
		Description: fmt.Sprintf("Ready to start laundry on %s", m.Name),
	}
}

func laundryStarted(m *models.Machine, o *models.Order, serviceType string) Notification {
	d := models.ServiceDurations[serviceType]
	if o != nil && o.EstimatedCompletion.After(o.StartedAt) {
		d = o.EstimatedCompletion.Sub(o.StartedAt)
	}
	return Notification{
		Title: "Laundry started!",
		Description: fmt.Sprintf("Your laundry has started on %s. Estimated completion in %d minutes.",
			m.Name, int(d/time.Minute)),
	}
}

func startFailed() Notification {
	return Notification{
		Title:       "Error starting laundry",
		Description: "Could not start laundry. Please try again.",
		Variant:     VariantDestructive,
	}
}

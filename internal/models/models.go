package models

import (
	"errors"
	"time"
)

var (
	// ErrMachineNotFound is returned when no machine matches a QR payload or ID.
	ErrMachineNotFound = errors.New("machine not found")
	// ErrMachineUnavailable is returned when a machine is not in the Available state.
	ErrMachineUnavailable = errors.New("machine unavailable")
	// ErrUnknownServiceType is returned for a service type with no known duration.
	ErrUnknownServiceType = errors.New("unknown service type")
)

// Machine statuses. Status is free text on the wire; only StatusAvailable
// gates a scan.
const (
	StatusAvailable   = "Available"
	StatusInUse       = "In Use"
	StatusOutOfOrder  = "Out of Order"
	StatusMaintenance = "Maintenance"
)

// Order statuses.
const (
	OrderInProgress = "In Progress"
	OrderCompleted  = "Completed"
)

// DefaultServiceType is the service requested by a QR scan.
const DefaultServiceType = "Quick Wash"

// Machine represents a physical laundry unit.
type Machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	QRCode    string    `json:"qr_code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available reports whether the machine can accept a new order.
func (m *Machine) Available() bool {
	return m.Status == StatusAvailable
}

// Order is a laundry run started on a machine by a user.
type Order struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	MachineID           string     `json:"machine_id"`
	ServiceType         string     `json:"service_type"`
	Status              string     `json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	EstimatedCompletion time.Time  `json:"estimated_completion"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// User is an account allowed to scan machines and start orders.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidTypes is the set of allowed machine type values.
var ValidTypes = map[string]bool{
	"Washer":       true,
	"Dryer":        true,
	"Washer-Dryer": true,
}

// ValidStatuses is the set of machine status values accepted on write.
var ValidStatuses = map[string]bool{
	StatusAvailable:   true,
	StatusInUse:       true,
	StatusOutOfOrder:  true,
	StatusMaintenance: true,
}

// ServiceDurations maps each offered service type to its expected run time.
var ServiceDurations = map[string]time.Duration{
	"Quick Wash":   45 * time.Minute,
	"Regular Wash": 60 * time.Minute,
	"Heavy Duty":   90 * time.Minute,
	"Dry":          50 * time.Minute,
}

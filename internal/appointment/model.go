package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending  AppointmentStatus = "pending"
	StatusAccepted AppointmentStatus = "accepted"
	StatusRejected AppointmentStatus = "rejected"
	StatusCanceled AppointmentStatus = "canceled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialization *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Appointment is a booked slot. DoctorID, PatientID and Date never change after
// creation; Date is the slot start at millisecond precision in UTC.
type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Symptoms  *string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment joined with the names of both parties.
type AppointmentDetail struct {
	Appointment
	DoctorName           string
	DoctorSpecialization *string
	PatientName          string
}

// NormalizeSlot brings a timestamp to the precision appointments are keyed on.
func NormalizeSlot(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotAlreadyBooked   = errors.New("this slot is already booked")
)

// NewAppointment carries the immutable fields of a booking.
type NewAppointment struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Symptoms  *string
}

// ListFilter narrows ListAppointments. Nil fields are not filtered on.
type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]AppointmentDetail, error)

	// Availability: slot starts in [from, to) that are held by a non-canceled appointment.
	ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)

	// CreateIfAbsent inserts a pending appointment unless any appointment, in any
	// status, already exists for the same doctor and timestamp. In that case it
	// returns ErrSlotAlreadyBooked. The check and the insert are one atomic step.
	CreateIfAbsent(ctx context.Context, in NewAppointment) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on status. It returns
	// ErrAppointmentNotFound when no row has the given id and status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

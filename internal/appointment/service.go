package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-booking/internal/config"
	redisclient "github.com/hackgods/hospital-appointment-booking/internal/redis"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCanceled      = "APPOINTMENT_CANCELED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
)

var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrSlotOutsideHours        = errors.New("slot must start on a 15 minute boundary between 09:00 and 17:00")
	ErrSlotInPast              = errors.New("slot is in the past")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Observer receives booking and lifecycle outcomes, e.g. for metrics.
type Observer interface {
	BookingAttempt(outcome string)
	StatusChanged(to AppointmentStatus)
}

type nopObserver struct{}

func (nopObserver) BookingAttempt(string)           {}
func (nopObserver) StatusChanged(AppointmentStatus) {}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.obs = o }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBookingWindow rejects slots that are off the daily grid or not in the
// future. Without it Book accepts any timestamp and only checks conflicts.
func WithBookingWindow() Option {
	return func(s *Service) { s.enforceWindow = true }
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
	obs    Observer
	now    func() time.Time

	enforceWindow bool
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    zerolog.Nop(),
		obs:    nopObserver{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the zone the daily slot grid is laid out in.
func (s *Service) Location() *time.Location {
	return s.cfg.Location()
}

// AvailableSlots returns the free slot starts of doctorID on the calendar day
// containing day. Canceled appointments do not hold their slot here.
func (s *Service) AvailableSlots(ctx context.Context, caller Caller, doctorID uuid.UUID, day time.Time) ([]time.Time, error) {
	if err := requireRole(caller); err != nil {
		return nil, err
	}
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", ErrInvalidArgument)
	}
	if day.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}

	loc := s.Location()
	from, to := DayBounds(day, loc)

	booked, err := s.repo.ListBookedSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	return ExcludeBooked(CandidateSlots(day, loc), booked), nil
}

type BookRequest struct {
	DoctorID uuid.UUID
	Slot     time.Time
	Symptoms *string
}

// Book creates a pending appointment for the calling patient.
// Any existing appointment on the same doctor and timestamp blocks the slot,
// canceled ones included.
func (s *Service) Book(ctx context.Context, caller Caller, req BookRequest) (*Appointment, error) {
	appt, err := s.book(ctx, caller, req)
	s.obs.BookingAttempt(bookingOutcome(err))
	return appt, err
}

func (s *Service) book(ctx context.Context, caller Caller, req BookRequest) (*Appointment, error) {
	if err := requireRole(caller, RolePatient); err != nil {
		return nil, err
	}
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", ErrInvalidArgument)
	}
	if req.Slot.IsZero() {
		return nil, fmt.Errorf("%w: slot is required", ErrInvalidArgument)
	}

	slot := NormalizeSlot(req.Slot)
	if s.enforceWindow {
		if !OnGrid(slot, s.Location()) {
			return nil, ErrSlotOutsideHours
		}
		if !slot.After(s.now()) {
			return nil, ErrSlotInPast
		}
	}

	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, caller.ID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, req.DoctorID, slot, func(lockCtx context.Context) error {
		appt, err := s.repo.CreateIfAbsent(lockCtx, NewAppointment{
			DoctorID:  req.DoctorID,
			PatientID: caller.ID,
			Date:      slot,
			Symptoms:  req.Symptoms,
		})
		if err != nil {
			if errors.Is(err, ErrSlotAlreadyBooked) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": caller.ID.String(),
			"date":       slot,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotAlreadyBooked):
		return "conflict"
	case errors.Is(err, ErrSlotBeingBooked):
		return "contended"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrSlotOutsideHours), errors.Is(err, ErrSlotInPast):
		return "invalid"
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrPatientNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// UpdateStatus lets the assigned doctor accept or reject a pending appointment.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if err := requireRole(caller, RoleDoctor); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := requireAssignedDoctor(caller, appt); err != nil {
		return nil, err
	}
	if to != StatusAccepted && to != StatusRejected {
		return nil, fmt.Errorf("%w: doctors may only accept or reject", ErrInvalidStatusTransition)
	}

	return s.transition(ctx, appt, to, EventAppointmentStatusChanged)
}

func (s *Service) Accept(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	return s.UpdateStatus(ctx, caller, id, StatusAccepted)
}

func (s *Service) Reject(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	return s.UpdateStatus(ctx, caller, id, StatusRejected)
}

// Cancel lets the patient who booked a pending appointment cancel it.
func (s *Service) Cancel(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	if err := requireRole(caller); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := requireOwningPatient(caller, appt); err != nil {
		return nil, err
	}

	return s.transition(ctx, appt, StatusCanceled, EventAppointmentCanceled)
}

// transition moves appt from pending to the target status. A concurrent change
// between load and update is reported as an invalid transition.
func (s *Service) transition(ctx context.Context, appt *Appointment, to AppointmentStatus, event string) (*Appointment, error) {
	if appt.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.obs.StatusChanged(to)
	s.logEvent(ctx, updated.ID, event, map[string]any{
		"from": string(StatusPending),
		"to":   string(to),
	})

	return updated, nil
}

// Delete permanently removes an appointment. Only super admins may do this.
func (s *Service) Delete(ctx context.Context, caller Caller, id uuid.UUID) error {
	if err := requireRole(caller, RoleSuperAdmin); err != nil {
		return err
	}

	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"deleted_by": caller.ID.String(),
	})
	return nil
}

// AppointmentView is a listed appointment. Expired is set once the slot start
// has passed.
type AppointmentView struct {
	AppointmentDetail
	Expired bool
}

// ListForDoctor returns the calling doctor's appointments.
func (s *Service) ListForDoctor(ctx context.Context, caller Caller) ([]AppointmentView, error) {
	if err := requireRole(caller, RoleDoctor); err != nil {
		return nil, err
	}
	return s.list(ctx, ListFilter{DoctorID: &caller.ID})
}

// ListForPatient returns the calling patient's appointments.
func (s *Service) ListForPatient(ctx context.Context, caller Caller) ([]AppointmentView, error) {
	if err := requireRole(caller, RolePatient); err != nil {
		return nil, err
	}
	return s.list(ctx, ListFilter{PatientID: &caller.ID})
}

// ListAll scopes by role: doctors and patients see their own appointments,
// super admins see every appointment.
func (s *Service) ListAll(ctx context.Context, caller Caller) ([]AppointmentView, error) {
	if err := requireRole(caller); err != nil {
		return nil, err
	}

	var filter ListFilter
	switch caller.Role {
	case RoleDoctor:
		filter.DoctorID = &caller.ID
	case RolePatient:
		filter.PatientID = &caller.ID
	}
	return s.list(ctx, filter)
}

func (s *Service) list(ctx context.Context, filter ListFilter) ([]AppointmentView, error) {
	details, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	now := s.now()
	views := make([]AppointmentView, 0, len(details))
	for _, d := range details {
		views = append(views, AppointmentView{
			AppointmentDetail: d,
			Expired:           d.Date.Before(now),
		})
	}
	return views, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

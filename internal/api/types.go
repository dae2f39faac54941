package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
)

type BookAppointmentRequest struct {
	DoctorID string   `json:"doctorId" validate:"required,uuid"`
	Slot     SlotTime `json:"slot"`
	Symptoms *string  `json:"symptoms" validate:"omitempty,max=2000"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted rejected canceled"`
}

// SlotTime accepts either epoch milliseconds, as returned by the availability
// endpoint, or an RFC 3339 string.
type SlotTime struct {
	time.Time
}

func (s *SlotTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		s.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("slot: %w", err)
		}
		s.Time = time.UnixMilli(ms)
		return nil
	}

	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		s.Time = time.UnixMilli(ms)
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("slot must be epoch milliseconds or RFC 3339: %w", err)
	}
	s.Time = t
	return nil
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      time.Time `json:"date"`
	Symptoms  *string   `json:"symptoms,omitempty"`
	Status    string    `json:"status"`
}

func newAppointmentResponse(a *appointment.Appointment) *AppointmentResponse {
	return &AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Symptoms:  a.Symptoms,
		Status:    string(a.Status),
	}
}

type MessageResponse struct {
	Message     string               `json:"message"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
}

type DoctorSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization *string   `json:"specialization,omitempty"`
}

type PatientSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// AppointmentListItem is one row of the list views. Which party summaries are
// present depends on the view.
type AppointmentListItem struct {
	ID       uuid.UUID       `json:"id"`
	Date     time.Time       `json:"date"`
	Status   string          `json:"status"`
	Symptoms *string         `json:"symptoms,omitempty"`
	Expired  bool            `json:"expired"`
	Doctor   *DoctorSummary  `json:"doctor,omitempty"`
	Patient  *PatientSummary `json:"patient,omitempty"`
}

type listView int

const (
	doctorView listView = iota
	patientView
	fullView
)

func newListItems(views []appointment.AppointmentView, v listView) []AppointmentListItem {
	items := make([]AppointmentListItem, 0, len(views))
	for _, a := range views {
		item := AppointmentListItem{
			ID:       a.ID,
			Date:     a.Date,
			Status:   string(a.Status),
			Symptoms: a.Symptoms,
			Expired:  a.Expired,
		}
		if v != doctorView {
			item.Doctor = &DoctorSummary{ID: a.DoctorID, Name: a.DoctorName, Specialization: a.DoctorSpecialization}
		}
		if v != patientView {
			item.Patient = &PatientSummary{ID: a.PatientID, Name: a.PatientName}
		}
		items = append(items, item)
	}
	return items
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

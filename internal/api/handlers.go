package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
)

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		doctorID, err := uuid.Parse(q.Get("doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		day, err := appointment.ParseDay(q.Get("date"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), callerFromContext(r.Context()), doctorID, day)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		resp := make([]int64, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, s.UnixMilli())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
			return
		}

		appt, err := svc.Book(r.Context(), callerFromContext(r.Context()), appointment.BookRequest{
			DoctorID: uuid.MustParse(req.DoctorID),
			Slot:     req.Slot.Time,
			Symptoms: req.Symptoms,
		})
		if err != nil {
			handleBookError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, MessageResponse{
			Message:     "Appointment booked successfully.",
			Appointment: newAppointmentResponse(appt),
		})
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), callerFromContext(r.Context()), id, appointment.AppointmentStatus(req.Status))
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{
			Message:     "Appointment status updated",
			Appointment: newAppointmentResponse(appt),
		})
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		if _, err := svc.Cancel(r.Context(), callerFromContext(r.Context()), id); err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment canceled successfully"})
	}
}

func deleteAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), callerFromContext(r.Context()), id); err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment deleted successfully"})
	}
}

func listAppointmentsHandler(svc *appointment.Service, view listView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())

		var (
			views []appointment.AppointmentView
			err   error
		)
		switch view {
		case doctorView:
			views, err = svc.ListForDoctor(r.Context(), caller)
		case patientView:
			views, err = svc.ListForPatient(r.Context(), caller)
		default:
			views, err = svc.ListAll(r.Context(), caller)
		}
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newListItems(views, view))
	}
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Booking conflicts answer 400, which is what existing clients expect.
func handleBookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		writeError(w, http.StatusBadRequest, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", err.Error())
	case errors.Is(err, appointment.ErrSlotOutsideHours):
		writeError(w, http.StatusBadRequest, "slot_outside_hours", err.Error())
	case errors.Is(err, appointment.ErrSlotInPast):
		writeError(w, http.StatusBadRequest, "slot_in_past", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	default:
		handleAppointmentError(w, r, err)
	}
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		writeError(w, http.StatusServiceUnavailable, "request_canceled", "request canceled")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled appointment error")
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

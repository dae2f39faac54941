package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, doctor_id, patient_id, date, symptoms, status, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialization, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&a.Symptoms,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Date = a.Date.UTC()
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]AppointmentDetail, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("a.doctor_id = $%d", len(args)))
	}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		conds = append(conds, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}

	query := `
		SELECT a.id, a.doctor_id, a.patient_id, a.date, a.symptoms, a.status, a.created_at, a.updated_at,
		       COALESCE(d.name, ''), d.specialization, COALESCE(p.name, '')
		FROM appointments a
		LEFT JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN patients p ON p.id = a.patient_id`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY a.date ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var d AppointmentDetail
		err := rows.Scan(
			&d.ID,
			&d.DoctorID,
			&d.PatientID,
			&d.Date,
			&d.Symptoms,
			&d.Status,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.DoctorName,
			&d.DoctorSpecialization,
			&d.PatientName,
		)
		if err != nil {
			return nil, err
		}
		d.Date = d.Date.UTC()
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date
		FROM appointments
		WHERE doctor_id = $1
		  AND date >= $2
		  AND date < $3
		  AND status <> 'canceled'
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t.UTC())
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateIfAbsent relies on the appointments_doctor_date_key unique index. A
// conflicting insert returns no row, which is reported as ErrSlotAlreadyBooked.
func (r *PgRepository) CreateIfAbsent(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, symptoms, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now(), now())
		ON CONFLICT (doctor_id, date) DO NOTHING
		RETURNING `+appointmentColumns+`
	`, id, in.DoctorID, in.PatientID, NormalizeSlot(in.Date), in.Symptoms)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrSlotAlreadyBooked
	}
	return appt, err
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	millis   int64
}

// MemoryRepository is an in-process Repository. It enforces the same
// (doctor, timestamp) uniqueness as the Postgres schema.
type MemoryRepository struct {
	mu           sync.RWMutex
	now          func() time.Time
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	appointments map[uuid.UUID]*Appointment
	slots        map[slotKey]uuid.UUID // doctor+timestamp -> appointment ID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:          time.Now,
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		appointments: make(map[uuid.UUID]*Appointment),
		slots:        make(map[slotKey]uuid.UUID),
	}
}

// AddPatient registers an account for lookups.
func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = &p
}

// AddDoctor registers an account for lookups.
func (m *MemoryRepository) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = &d
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, filter ListFilter) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []AppointmentDetail
	for _, a := range m.appointments {
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}

		d := AppointmentDetail{Appointment: *a}
		if doc, ok := m.doctors[a.DoctorID]; ok {
			d.DoctorName = doc.Name
			d.DoctorSpecialization = doc.Specialization
		}
		if p, ok := m.patients[a.PatientID]; ok {
			d.PatientName = p.Name
		}
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *MemoryRepository) ListBookedSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []time.Time
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.Status == StatusCanceled {
			continue
		}
		if a.Date.Before(from) || !a.Date.Before(to) {
			continue
		}
		result = append(result, a.Date)
	}
	return result, nil
}

func (m *MemoryRepository) CreateIfAbsent(_ context.Context, in NewAppointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	date := NormalizeSlot(in.Date)
	key := slotKey{doctorID: in.DoctorID, millis: date.UnixMilli()}
	if _, taken := m.slots[key]; taken {
		return nil, ErrSlotAlreadyBooked
	}

	now := m.now()
	a := &Appointment{
		ID:        uuid.New(),
		DoctorID:  in.DoctorID,
		PatientID: in.PatientID,
		Date:      date,
		Symptoms:  in.Symptoms,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.appointments[a.ID] = a
	m.slots[key] = a.ID

	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = m.now()

	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	delete(m.slots, slotKey{doctorID: a.DoctorID, millis: a.Date.UnixMilli()})
	delete(m.appointments, id)
	return nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

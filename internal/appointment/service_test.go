package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-appointment-booking/internal/config"
	redisclient "github.com/hackgods/hospital-appointment-booking/internal/redis"
)

var (
	testDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	slot10  = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo    *MemoryRepository
	svc     *Service
	doctor  Caller
	doctor2 Caller
	patient Caller
	other   Caller
	admin   Caller
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	f := &fixture{
		repo:    repo,
		doctor:  Caller{ID: uuid.New(), Role: RoleDoctor},
		doctor2: Caller{ID: uuid.New(), Role: RoleDoctor},
		patient: Caller{ID: uuid.New(), Role: RolePatient},
		other:   Caller{ID: uuid.New(), Role: RolePatient},
		admin:   Caller{ID: uuid.New(), Role: RoleSuperAdmin},
	}

	spec := "Cardiology"
	repo.AddDoctor(Doctor{ID: f.doctor.ID, Name: "Dr. Grey", Specialization: &spec})
	repo.AddDoctor(Doctor{ID: f.doctor2.ID, Name: "Dr. Shepherd"})
	repo.AddPatient(Patient{ID: f.patient.ID, Name: "Ann"})
	repo.AddPatient(Patient{ID: f.other.ID, Name: "Bob"})

	clock := func() time.Time { return time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC) }
	cfg := config.Config{ClinicLocation: time.UTC}
	f.svc = NewService(repo, redisclient.NoopLocker{}, cfg, append([]Option{WithClock(clock)}, opts...)...)
	return f
}

func (f *fixture) book(t *testing.T, caller Caller, slot time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), caller, BookRequest{DoctorID: f.doctor.ID, Slot: slot})
	require.NoError(t, err)
	return appt
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) BookingAttempt(outcome string) {
	m.Called(outcome)
}

func (m *mockObserver) StatusChanged(to AppointmentStatus) {
	m.Called(to)
}

type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, uuid.UUID, time.Time, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestAvailableSlots_EmptyDay(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.AvailableSlots(context.Background(), f.patient, f.doctor.ID, testDay)

	require.NoError(t, err)
	assert.Len(t, slots, 32)
}

func TestAvailableSlots_ExcludesBookedButNotCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.patient, slot10)
	canceled := f.book(t, f.patient, slot10.Add(time.Hour))
	_, err := f.svc.Cancel(ctx, f.patient, canceled.ID)
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, f.patient, f.doctor.ID, testDay)
	require.NoError(t, err)

	assert.Len(t, slots, 31)
	assert.NotContains(t, slots, slot10)
	assert.Contains(t, slots, slot10.Add(time.Hour))

	// other doctors are unaffected
	slots, err = f.svc.AvailableSlots(ctx, f.patient, f.doctor2.ID, testDay)
	require.NoError(t, err)
	assert.Len(t, slots, 32)
}

func TestAvailableSlots_AcceptedAppointmentHoldsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, f.patient, slot10)
	_, err := f.svc.Accept(ctx, f.doctor, appt.ID)
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, f.other, f.doctor.ID, testDay)
	require.NoError(t, err)

	assert.NotContains(t, slots, slot10)
	assert.Contains(t, slots, slot10.Add(SlotDuration))
}

func TestAvailableSlots_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AvailableSlots(ctx, Caller{}, f.doctor.ID, testDay)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AvailableSlots(ctx, f.patient, uuid.Nil, testDay)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.AvailableSlots(ctx, f.patient, f.doctor.ID, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBook_CreatesPendingAppointment(t *testing.T) {
	obs := &mockObserver{}
	obs.On("BookingAttempt", "booked").Once()
	f := newFixture(t, WithObserver(obs))

	symptoms := "headache"
	appt, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctor.ID,
		Slot:     slot10,
		Symptoms: &symptoms,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, f.doctor.ID, appt.DoctorID)
	assert.Equal(t, f.patient.ID, appt.PatientID)
	assert.True(t, appt.Date.Equal(slot10))
	require.NotNil(t, appt.Symptoms)
	assert.Equal(t, "headache", *appt.Symptoms)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	obs.AssertExpectations(t)
}

func TestBook_ConflictRegardlessOfStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.book(t, f.patient, slot10)

	_, err := f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	_, err = f.svc.Cancel(ctx, f.patient, first.ID)
	require.NoError(t, err)

	// a canceled appointment still holds its timestamp for booking
	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	// the same instant expressed in another zone is the same slot
	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10.In(time.FixedZone("IST", 19800))})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestBook_SameSlotDifferentDoctor(t *testing.T) {
	f := newFixture(t)

	f.book(t, f.patient, slot10)
	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{DoctorID: f.doctor2.ID, Slot: slot10})

	assert.NoError(t, err)
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		caller Caller
		req    BookRequest
		want   error
	}{
		{"doctor cannot book", f.doctor, BookRequest{DoctorID: f.doctor.ID, Slot: slot10}, ErrForbidden},
		{"anonymous", Caller{}, BookRequest{DoctorID: f.doctor.ID, Slot: slot10}, ErrForbidden},
		{"missing doctor", f.patient, BookRequest{Slot: slot10}, ErrInvalidArgument},
		{"missing slot", f.patient, BookRequest{DoctorID: f.doctor.ID}, ErrInvalidArgument},
		{"unknown doctor", f.patient, BookRequest{DoctorID: uuid.New(), Slot: slot10}, ErrDoctorNotFound},
		{"unknown patient", Caller{ID: uuid.New(), Role: RolePatient}, BookRequest{DoctorID: f.doctor.ID, Slot: slot10}, ErrPatientNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.repo.Events())
}

func TestBook_BookingWindow(t *testing.T) {
	f := newFixture(t, WithBookingWindow())

	tests := []struct {
		name string
		slot time.Time
		want error
	}{
		{"off grid", slot10.Add(7 * time.Minute), ErrSlotOutsideHours},
		{"after hours", testDay.Add(17 * time.Hour), ErrSlotOutsideHours},
		{"before opening", testDay.Add(8*time.Hour + 45*time.Minute), ErrSlotOutsideHours},
		{"in the past", slot10.AddDate(0, 0, -7), ErrSlotInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), f.patient, BookRequest{DoctorID: f.doctor.ID, Slot: tt.slot})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	appt := f.book(t, f.patient, slot10)
	assert.Equal(t, slot10, appt.Date)
	assert.Len(t, f.repo.Events(), 1)
}

func TestBook_ConflictWithWallClock(t *testing.T) {
	f := newFixture(t, WithClock(time.Now))
	ctx := context.Background()

	first, err := f.svc.Book(ctx, f.patient, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	offGrid := slot10.Add(7 * time.Minute)
	_, err = f.svc.Book(ctx, f.patient, BookRequest{DoctorID: f.doctor.ID, Slot: offGrid})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: offGrid})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	_, err = f.svc.Cancel(ctx, f.patient, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestBook_LockContention(t *testing.T) {
	obs := &mockObserver{}
	obs.On("BookingAttempt", "contended").Once()

	f := newFixture(t, WithObserver(obs))
	f.svc.locker = busyLocker{}

	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})

	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	obs.AssertExpectations(t)
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)

	const n = 20
	callers := make([]Caller, n)
	for i := range callers {
		callers[i] = Caller{ID: uuid.New(), Role: RolePatient}
		f.repo.AddPatient(Patient{ID: callers[i].ID, Name: "p"})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, c := range callers {
		wg.Add(1)
		go func(c Caller) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), c, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("assigned doctor accepts", func(t *testing.T) {
		obs := &mockObserver{}
		obs.On("BookingAttempt", mock.Anything)
		obs.On("StatusChanged", StatusAccepted).Once()
		f := newFixture(t, WithObserver(obs))
		appt := f.book(t, f.patient, slot10)

		updated, err := f.svc.Accept(ctx, f.doctor, appt.ID)

		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, updated.Status)
		obs.AssertExpectations(t)
	})

	t.Run("assigned doctor rejects", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		updated, err := f.svc.Reject(ctx, f.doctor, appt.ID)

		require.NoError(t, err)
		assert.Equal(t, StatusRejected, updated.Status)
	})

	t.Run("other doctor is denied", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		_, err := f.svc.UpdateStatus(ctx, f.doctor2, appt.ID, StatusAccepted)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("patient and admin are denied", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		_, err := f.svc.UpdateStatus(ctx, f.patient, appt.ID, StatusAccepted)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.UpdateStatus(ctx, f.admin, appt.ID, StatusAccepted)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.UpdateStatus(ctx, f.doctor, uuid.New(), StatusAccepted)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("only pending can change", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)
		_, err := f.svc.Accept(ctx, f.doctor, appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Reject(ctx, f.doctor, appt.ID)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})

	t.Run("doctor cannot cancel or reset", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		_, err := f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusCanceled)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
		_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusPending)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
		_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, AppointmentStatus("done"))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("owning patient cancels", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		updated, err := f.svc.Cancel(ctx, f.patient, appt.ID)

		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, updated.Status)

		events := f.repo.Events()
		require.Len(t, events, 2)
		assert.Equal(t, EventAppointmentCanceled, events[1].EventType)
	})

	t.Run("other patient is denied", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		_, err := f.svc.Cancel(ctx, f.other, appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("doctor is denied", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)

		_, err := f.svc.Cancel(ctx, f.doctor, appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Cancel(ctx, f.patient, uuid.New())
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("accepted cannot be canceled", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, f.patient, slot10)
		_, err := f.svc.Accept(ctx, f.doctor, appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, f.patient, appt.ID)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.patient, slot10)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.patient, appt.ID), ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.doctor, appt.ID), ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, uuid.New()), ErrAppointmentNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.admin, appt.ID))

	_, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	// a hard delete frees the timestamp
	_, err = f.svc.Book(ctx, f.other, BookRequest{DoctorID: f.doctor.ID, Slot: slot10})
	assert.NoError(t, err)
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.book(t, f.patient, slot10.Add(time.Hour))
	f.book(t, f.other, slot10)
	_, err := f.svc.Book(ctx, f.patient, BookRequest{DoctorID: f.doctor2.ID, Slot: slot10})
	require.NoError(t, err)

	mine, err := f.svc.ListForPatient(ctx, f.patient)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.True(t, mine[0].Date.Before(mine[1].Date))

	forDoctor, err := f.svc.ListForDoctor(ctx, f.doctor)
	require.NoError(t, err)
	require.Len(t, forDoctor, 2)
	assert.Equal(t, "Bob", forDoctor[0].PatientName)
	assert.Equal(t, "Dr. Grey", forDoctor[0].DoctorName)

	all, err := f.svc.ListAll(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := f.svc.ListAll(ctx, f.doctor2)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	_, err = f.svc.ListForDoctor(ctx, f.patient)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ListForPatient(ctx, f.doctor)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ListAll(ctx, Caller{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListings_ExpiredFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, f.patient, slot10)

	f.svc.now = func() time.Time { return slot10.Add(time.Minute) }

	views, err := f.svc.ListForPatient(ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Expired)
}

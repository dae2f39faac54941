package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
	"github.com/hackgods/hospital-appointment-booking/internal/auth"
	"github.com/hackgods/hospital-appointment-booking/internal/config"
	"github.com/hackgods/hospital-appointment-booking/internal/db"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", "simulate").Logger()

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	DecisionRatio float64
	CancelRatio   float64
	ReadRatio     float64
	DaysAhead     int
	RaceBookers   int
	PatientLimit  int
	DoctorLimit   int
	PostgresDSN   string
	JWTSecret     []byte
	Location      *time.Location
}

type bookedAppointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients     []uuid.UUID
	Doctors      []uuid.UUID
	mu           sync.RWMutex
	appointments []bookedAppointment
	tokens       sync.Map // caller ID -> bearer token
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Decision     OperationMetrics
	Cancel       OperationMetrics
	List         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("decision", cfg.DecisionRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	race, err := sim.RaceSingleSlot(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("race phase failed")
	}

	if err := sim.Run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("simulation aborted")
	}

	sim.PrintReport(race)
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	var env config.EnvReader
	cfg := SimConfig{
		APIBaseURL:    env.String("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:      env.Duration("SIM_DURATION", 30*time.Second),
		Workers:       env.Int("SIM_WORKERS", 10),
		BookingRatio:  env.Float("SIM_BOOKING_RATIO", 0.4),
		DecisionRatio: env.Float("SIM_DECISION_RATIO", 0.15),
		CancelRatio:   env.Float("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:     env.Float("SIM_READ_RATIO", 0.4),
		DaysAhead:     env.Int("SIM_DAYS_AHEAD", 5),
		RaceBookers:   env.Int("SIM_RACE_BOOKERS", 25),
		PatientLimit:  env.Int("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:   env.Int("SIM_DOCTOR_LIMIT", 50),
		PostgresDSN:   baseCfg.PostgresDSN,
		JWTSecret:     []byte(baseCfg.JWTSecret),
		Location:      baseCfg.Location(),
	}
	if err := env.Err(); err != nil {
		return SimConfig{}, err
	}

	total := cfg.BookingRatio + cfg.DecisionRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.DecisionRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) token(id uuid.UUID, role appointment.Role) string {
	if v, ok := s.pool.tokens.Load(id); ok {
		return v.(string)
	}
	tok, err := auth.SignToken(s.config.JWTSecret, appointment.Caller{ID: id, Role: role}, s.config.Duration+time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("sign token")
	}
	s.pool.tokens.Store(id, tok)
	return tok
}

// RaceSingleSlot fires RaceBookers concurrent bookings at one slot. Exactly
// one of them is expected to succeed.
func (s *Simulator) RaceSingleSlot(ctx context.Context) (*OperationMetrics, error) {
	if s.config.RaceBookers <= 0 {
		return nil, nil
	}

	doctorID := s.pool.Doctors[0]
	day := time.Now().In(s.config.Location).AddDate(0, 0, s.config.DaysAhead+1)
	slots := appointment.CandidateSlots(day, s.config.Location)
	target := slots[len(slots)-1]

	logger.Info().
		Str("doctor_id", doctorID.String()).
		Time("slot", target).
		Int("bookers", s.config.RaceBookers).
		Msg("racing single slot")

	var race OperationMetrics
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.RaceBookers; i++ {
		patientID := s.pool.Patients[i%len(s.pool.Patients)]
		g.Go(func() error {
			s.book(gctx, &race, doctorID, patientID, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &race, err
	}

	if n := atomic.LoadInt64(&race.Success); n > 1 {
		return &race, fmt.Errorf("slot double booked: %d successes", n)
	}
	return &race, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}

	err := g.Wait()
	logger.Info().Msg("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.DecisionRatio:
			s.doDecision(ctx, rng)
		case r < s.config.BookingRatio+s.config.DecisionRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	day := time.Now().In(s.config.Location).AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead))

	free, ok := s.available(ctx, doctorID, patientID, day)
	if !ok || len(free) == 0 {
		return
	}

	s.book(ctx, &s.metrics.Booking, doctorID, patientID, free[rng.Intn(len(free))])
}

func (s *Simulator) available(ctx context.Context, doctorID, patientID uuid.UUID, day time.Time) ([]time.Time, bool) {
	url := fmt.Sprintf("%s/appointments/available?doctorId=%s&date=%s",
		s.config.APIBaseURL, doctorID, day.Format(time.DateOnly))

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, url, s.token(patientID, appointment.RolePatient), nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}

	var millis []int64
	if err := json.NewDecoder(resp.Body).Decode(&millis); err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	s.metrics.Availability.Record(latency, true, false)

	slots := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		slots = append(slots, time.UnixMilli(ms))
	}
	return slots, true
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, doctorID, patientID uuid.UUID, slot time.Time) {
	body, _ := json.Marshal(map[string]any{
		"doctorId": doctorID.String(),
		"slot":     slot.UnixMilli(),
		"symptoms": "simulated visit",
	})

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments/book", s.token(patientID, appointment.RolePatient), body)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			Appointment struct {
				ID uuid.UUID `json:"id"`
			} `json:"appointment"`
		}
		if err := json.Unmarshal(raw, &created); err == nil && created.Appointment.ID != uuid.Nil {
			s.pool.AddAppointment(bookedAppointment{ID: created.Appointment.ID, DoctorID: doctorID, PatientID: patientID})
		}
		om.Record(latency, true, false)
	case http.StatusConflict:
		om.Record(latency, false, true)
	case http.StatusBadRequest:
		om.Record(latency, false, strings.Contains(string(raw), "slot_already_booked"))
	default:
		om.Record(latency, false, false)
	}
}

func (s *Simulator) doDecision(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status := "accepted"
	if rng.Intn(4) == 0 {
		status = "rejected"
	}
	body, _ := json.Marshal(map[string]string{"status": status})

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, appt.ID),
		s.token(appt.DoctorID, appointment.RoleDoctor), body)
	latency := time.Since(start)
	s.recordTransition(&s.metrics.Decision, resp, err, latency)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/cancel/%s", s.config.APIBaseURL, appt.ID),
		s.token(appt.PatientID, appointment.RolePatient), nil)
	latency := time.Since(start)
	s.recordTransition(&s.metrics.Cancel, resp, err, latency)
}

// recordTransition counts an invalid transition as a conflict: another worker
// already moved the appointment out of pending.
func (s *Simulator) recordTransition(om *OperationMetrics, resp *http.Response, err error, latency time.Duration) {
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	om.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusBadRequest)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	var url, tok string
	if rng.Intn(2) == 0 {
		id := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
		url, tok = s.config.APIBaseURL+"/appointments/doctor", s.token(id, appointment.RoleDoctor)
	} else {
		id := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		url, tok = s.config.APIBaseURL+"/appointments/patient", s.token(id, appointment.RolePatient)
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, url, tok, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.List.Record(latency, success, false)
}

func (s *Simulator) do(ctx context.Context, method, url, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return s.client.Do(req)
}

func (s *Simulator) PrintReport(race *OperationMetrics) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	if race != nil {
		printOperationReport("Single slot race", race)
	}
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Accept/Reject", &s.metrics.Decision)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL        string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration          time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers           int           `envconfig:"SIM_WORKERS" default:"10"`
	Date              string        `envconfig:"SIM_DATE"`
	PractitionerLimit int           `envconfig:"SIM_PRACTITIONER_LIMIT" default:"3"`
	PatientLimit      int           `envconfig:"SIM_PATIENT_LIMIT" default:"500"`
	BookingRatio      float64       `envconfig:"SIM_BOOKING_RATIO" default:"0.5"`
	ChangeRatio       float64       `envconfig:"SIM_CHANGE_RATIO" default:"0.2"`
	ReadRatio         float64       `envconfig:"SIM_READ_RATIO" default:"0.3"`

	PostgresDSN string `ignored:"true"`
	date        time.Time
}

// DataPool is the shared working set of the workers. Few practitioners on a
// single day keep the booking traffic contended on purpose.
type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Metrics struct {
	Booking       OperationMetrics
	ConflictCheck OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	Reschedule    OperationMetrics
	ReadByID      OperationMetrics
	ListDay       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics
}

var (
	simNotes         = []string{"Walk-in request", "Referral", "Repeat prescription", "Test results", ""}
	simCancelReasons = []string{"Patient request", "Practitioner unavailable", "Booked in error"}
)

var simKinds = []scheduling.AppointmentKind{
	scheduling.KindInitialConsult,
	scheduling.KindFollowUp,
	scheduling.KindGeneralConsult,
	scheduling.KindInvestigation,
	scheduling.KindProcedure,
	scheduling.KindTelemedicine,
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(baseCfg.LogLevel, baseCfg.Env).With().Str("component", "simulate").Logger()

	cfg, err := loadSimConfig(baseCfg, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid simulator config")
	}
	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Str("date", scheduling.FormatDate(cfg.date)).
		Float64("booking", cfg.BookingRatio).
		Float64("change", cfg.ChangeRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("practitioners", len(dataPool.Practitioners)).Int("patients", len(dataPool.Patients)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if overlaps, err := sim.VerifySchedules(verifyCtx); err != nil {
		log.Fatal().Err(err).Msg("verify schedules")
	} else if overlaps > 0 {
		log.Error().Int("overlaps", overlaps).Msg("double booking detected")
		os.Exit(1)
	}
	log.Info().Msg("no double booking detected")
}

func loadSimConfig(base config.Config, now time.Time) (SimConfig, error) {
	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	cfg.PostgresDSN = base.PostgresDSN
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.PractitionerLimit <= 0 {
		return cfg, fmt.Errorf("SIM_PRACTITIONER_LIMIT must be > 0")
	}

	if cfg.Date != "" {
		d, err := scheduling.ParseDate(cfg.Date)
		if err != nil {
			return cfg, fmt.Errorf("SIM_DATE: %w", err)
		}
		cfg.date = d
	} else {
		cfg.date = nextWeekday(scheduling.DateOf(now).AddDate(0, 0, 7))
	}

	total := cfg.BookingRatio + cfg.ChangeRatio + cfg.ReadRatio
	if total <= 0 {
		return cfg, fmt.Errorf("operation ratios must sum to > 0")
	}
	cfg.BookingRatio /= total
	cfg.ChangeRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

func nextWeekday(d time.Time) time.Time {
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Practitioners, err = loadIDs(ctx, pool, `SELECT id FROM practitioners ORDER BY created_at LIMIT $1`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(dataPool.Practitioners) == 0 {
		return nil, fmt.Errorf("no practitioners loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
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

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			if rng.Intn(4) == 0 {
				s.doConflictCheck(ctx, rng)
			} else {
				s.doBooking(ctx, rng, faker)
			}
		case r < s.config.BookingRatio+s.config.ChangeRatio:
			switch rng.Intn(3) {
			case 0:
				s.doConfirm(ctx, rng)
			case 1:
				s.doCancel(ctx, rng, faker)
			case 2:
				s.doReschedule(ctx, rng)
			}
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListDay(ctx, rng)
			}
		}
	}
}

// randomInterval picks a quarter-hour start inside clinic hours and a
// length from the kind's default duration.
func randomInterval(rng *rand.Rand, kind scheduling.AppointmentKind) scheduling.Interval {
	start := scheduling.NewTimeOfDay(8, 0) + scheduling.TimeOfDay(15*rng.Intn(33))
	return scheduling.NewInterval(start, start+scheduling.TimeOfDay(kind.DefaultDuration().Minutes()))
}

func (s *Simulator) pick(rng *rand.Rand, ids []uuid.UUID) uuid.UUID {
	return ids[rng.Intn(len(ids))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	kind := simKinds[rng.Intn(len(simKinds))]
	iv := randomInterval(rng, kind)

	body := map[string]string{
		"practitioner_id": s.pick(rng, s.pool.Practitioners).String(),
		"patient_id":      s.pick(rng, s.pool.Patients).String(),
		"date":            scheduling.FormatDate(s.config.date),
		"start":           iv.Start.String(),
		"end":             iv.End.String(),
		"kind":            string(kind),
		"note":            faker.RandomString(simNotes),
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", body, &created)
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
}

func (s *Simulator) doConflictCheck(ctx context.Context, rng *rand.Rand) {
	iv := randomInterval(rng, simKinds[rng.Intn(len(simKinds))])
	body := map[string]string{
		"practitioner_id": s.pick(rng, s.pool.Practitioners).String(),
		"date":            scheduling.FormatDate(s.config.date),
		"start":           iv.Start.String(),
		"end":             iv.End.String(),
	}
	status, latency, _ := s.call(ctx, http.MethodPost, "/appointments/conflicts", body, nil)
	s.metrics.ConflictCheck.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, _ := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/confirm", nil, nil)
	s.metrics.Confirm.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]string{"reason": faker.RandomString(simCancelReasons)}
	status, latency, _ := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", body, nil)
	s.metrics.Cancel.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	iv := randomInterval(rng, simKinds[rng.Intn(len(simKinds))])
	body := map[string]string{
		"date":  scheduling.FormatDate(s.config.date),
		"start": iv.Start.String(),
		"end":   iv.End.String(),
	}
	status, latency, _ := s.call(ctx, http.MethodPut, "/appointments/"+id.String()+"/schedule", body, nil)
	s.metrics.Reschedule.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, _ := s.call(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
	s.metrics.ReadByID.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) doListDay(ctx context.Context, rng *rand.Rand) {
	path := fmt.Sprintf("/appointments?date=%s&practitioner_id=%s",
		scheduling.FormatDate(s.config.date), s.pick(rng, s.pool.Practitioners))
	status, latency, _ := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.ListDay.Record(latency, status == http.StatusOK, false)
}

// call sends one request and decodes a 2xx body into out when out is set.
// A transport error reports status 0.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Date: %s, practitioners: %d\n", scheduling.FormatDate(s.config.date), len(s.pool.Practitioners))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Conflict check", &s.metrics.ConflictCheck)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List day", &s.metrics.ListDay)
}

package main

import (
	"context"
	"errors"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const (
	practitionerCount = 25
	patientCount      = 2000
	bookingDays       = 14
	bookingsPerDay    = 12
)

var seedNotes = []string{
	"Annual check-up",
	"Blood pressure follow-up",
	"Review lab results",
	"Persistent cough",
	"Medication review",
	"Post-operative control",
	"",
}

var seedKinds = []scheduling.AppointmentKind{
	scheduling.KindInitialConsult,
	scheduling.KindFollowUp,
	scheduling.KindGeneralConsult,
	scheduling.KindInvestigation,
	scheduling.KindProcedure,
	scheduling.KindTelemedicine,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("component", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	practitioners, err := seedPractitioners(ctx, pool, faker, practitionerCount, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed practitioners")
	}
	patients, err := seedPatients(ctx, pool, faker, patientCount, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	svc := scheduling.NewAppointmentService(scheduling.NewPgRepository(pool), nil, scheduling.Options{
		Logger: log.Level(zerolog.WarnLevel),
		Policy: scheduling.DefaultBookingPolicy(),
	})
	booked, conflicts := seedAppointments(ctx, svc, faker, practitioners, patients, log)

	log.Info().Int("booked", booked).Int("conflicts", conflicts).Msg("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding practitioners")

	specialties := []string{
		"General Practice",
		"Cardiology",
		"Dermatology",
		"Endocrinology",
		"Neurology",
		"Orthopedics",
		"Pediatrics",
		"Psychiatry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+faker.Name(), specialties[faker.Number(0, len(specialties)-1)])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			birth := faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, birth_date, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, faker.Name(), faker.Email(), scheduling.DateOf(birth))
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		log.Debug().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}
	return ids, nil
}

// seedAppointments books through the service so seeded data obeys the same
// overlap and policy rules as live traffic.
func seedAppointments(ctx context.Context, svc *scheduling.AppointmentService, faker *gofakeit.Faker,
	practitioners, patients []uuid.UUID, log zerolog.Logger) (booked, conflicts int) {

	today := scheduling.DateOf(time.Now())
	for day := 1; day <= bookingDays; day++ {
		date := today.AddDate(0, 0, day)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		for _, practitioner := range practitioners {
			for i := 0; i < bookingsPerDay; i++ {
				kind := seedKinds[faker.Number(0, len(seedKinds)-1)]
				// quarter-hour starts between 08:00 and 16:45
				start := scheduling.NewTimeOfDay(8, 0) + scheduling.TimeOfDay(15*faker.Number(0, 35))
				iv := scheduling.NewInterval(start, start+scheduling.TimeOfDay(kind.DefaultDuration().Minutes()))

				_, err := svc.Book(ctx, scheduling.BookRequest{
					PractitionerID: practitioner,
					PatientID:      patients[faker.Number(0, len(patients)-1)],
					Date:           date,
					Interval:       iv,
					Kind:           kind,
					Note:           faker.RandomString(seedNotes),
				})
				switch {
				case err == nil:
					booked++
				case errors.Is(err, scheduling.ErrConflict):
					conflicts++
				default:
					log.Warn().Err(err).Msg("seed booking failed")
				}
			}
		}
	}
	return booked, conflicts
}

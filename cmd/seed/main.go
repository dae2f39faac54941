package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-appointment-booking/internal/config"
	"github.com/hackgods/hospital-appointment-booking/internal/db"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", "seed").Logger()

type seedOptions struct {
	doctors  int
	patients int
	migrate  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Insert fake doctors and patients",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.doctors < 0 || opts.patients < 0 {
				return fmt.Errorf("--doctors and --patients must not be negative")
			}
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 50, "number of doctors to insert")
	cmd.Flags().IntVar(&opts.patients, "patients", 2000, "number of patients to insert")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "apply pending migrations first")
	return cmd
}

func run(ctx context.Context, cfg config.Database, opts seedOptions) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, cfg.MaxConns)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pool.Close()

	if opts.migrate {
		if err := db.MigrateUp(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	if err := seedDoctors(ctx, pool, opts.doctors); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPatients(ctx, pool, opts.patients); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		name := "Dr. " + gofakeit.LastName()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialization, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), name, spec)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// withRepo opens the backend for the duration of one command.
func withRepo(cmd *cobra.Command, open opener, fn func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	repo, opts, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	if opts.Clock == nil {
		opts.Clock = scheduling.SystemClock
	}
	return fn(ctx, repo, opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func flagDate(cmd *cobra.Command, name string, fallback time.Time) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return scheduling.DateOf(fallback), nil
	}
	return scheduling.ParseDate(raw)
}

func flagUUID(cmd *cobra.Command, name string) (*uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &id, nil
}

func listCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a day's appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, open, func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error {
				date, err := flagDate(cmd, "date", opts.Clock())
				if err != nil {
					return err
				}
				practitioner, err := flagUUID(cmd, "practitioner")
				if err != nil {
					return err
				}

				appts, err := scheduling.NewAppointmentService(repo, nil, opts).ListDay(ctx, date, practitioner)
				if err != nil {
					return err
				}
				resp := make([]api.AppointmentResponse, 0, len(appts))
				for i := range appts {
					resp = append(resp, api.NewAppointmentResponse(&appts[i]))
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().String("date", "", "Day to list (YYYY-MM-DD, default today)")
	cmd.Flags().String("practitioner", "", "Restrict to one practitioner")
	return cmd
}

func conflictCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflict",
		Short: "Check whether a practitioner is free for an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, open, func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error {
				practitioner, err := flagUUID(cmd, "practitioner")
				if err != nil {
					return err
				}
				if practitioner == nil {
					return fmt.Errorf("--practitioner is required")
				}
				date, err := flagDate(cmd, "date", opts.Clock())
				if err != nil {
					return err
				}
				startRaw, _ := cmd.Flags().GetString("start")
				endRaw, _ := cmd.Flags().GetString("end")
				start, err := scheduling.ParseTimeOfDay(startRaw)
				if err != nil {
					return err
				}
				end, err := scheduling.ParseTimeOfDay(endRaw)
				if err != nil {
					return err
				}
				exclude, err := flagUUID(cmd, "exclude")
				if err != nil {
					return err
				}

				existing, err := scheduling.NewConflictChecker(repo, opts).FindConflict(ctx, scheduling.ConflictQuery{
					PractitionerID: *practitioner,
					Date:           date,
					Interval:       scheduling.NewInterval(start, end),
					ExcludeID:      exclude,
				})
				if err != nil {
					return err
				}
				resp := api.ConflictCheckResponse{Conflict: existing != nil}
				if existing != nil {
					a := api.NewAppointmentResponse(existing)
					resp.Existing = &a
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner ID")
	cmd.Flags().String("date", "", "Day (YYYY-MM-DD, default today)")
	cmd.Flags().String("start", "", "Start time (HH:MM)")
	cmd.Flags().String("end", "", "End time (HH:MM)")
	cmd.Flags().String("exclude", "", "Appointment ID to ignore")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func statsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate appointment statistics over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, open, func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error {
				from, err := flagDate(cmd, "from", opts.Clock())
				if err != nil {
					return err
				}
				to, err := flagDate(cmd, "to", from)
				if err != nil {
					return err
				}
				practitioner, err := flagUUID(cmd, "practitioner")
				if err != nil {
					return err
				}

				snap, err := scheduling.NewStatisticsService(repo, opts).Compute(ctx, scheduling.DateRange{From: from, To: to}, practitioner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.NewStatisticsResponse(snap))
			})
		},
	}
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD, default today)")
	cmd.Flags().String("to", "", "Last day, inclusive (default --from)")
	cmd.Flags().String("practitioner", "", "Restrict to one practitioner")
	return cmd
}

func dailyCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show the front-desk summary for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, open, func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error {
				date, err := flagDate(cmd, "date", opts.Clock())
				if err != nil {
					return err
				}
				practitioner, err := flagUUID(cmd, "practitioner")
				if err != nil {
					return err
				}

				summary, err := scheduling.NewStatisticsService(repo, opts).DailySummary(ctx, date, practitioner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.NewDailySummaryResponse(summary))
			})
		},
	}
	cmd.Flags().String("date", "", "Day (YYYY-MM-DD, default today)")
	cmd.Flags().String("practitioner", "", "Restrict to one practitioner")
	return cmd
}

func sweepCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark past unattended appointments as no-shows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, open, func(ctx context.Context, repo scheduling.Repository, opts scheduling.Options) error {
				before, err := flagDate(cmd, "before", opts.Clock())
				if err != nil {
					return err
				}

				marked, err := scheduling.NewAppointmentService(repo, nil, opts).SweepNoShows(ctx, before)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"marked_no_show": marked,
					"before":         scheduling.FormatDate(before),
				})
			})
		},
	}
	cmd.Flags().String("before", "", "Appointments dated before this day are swept (YYYY-MM-DD, default today)")
	return cmd
}

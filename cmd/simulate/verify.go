package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type listedAppointment struct {
	ID     uuid.UUID `json:"id"`
	Start  string    `json:"start"`
	End    string    `json:"end"`
	Status string    `json:"status"`
}

type overlap struct {
	A, B uuid.UUID
}

// VerifySchedules reads back every practitioner's day and counts pairs of
// live appointments that overlap.
func (s *Simulator) VerifySchedules(ctx context.Context) (int, error) {
	total := 0
	for _, practitioner := range s.pool.Practitioners {
		url := fmt.Sprintf("%s/appointments?date=%s&practitioner_id=%s",
			s.config.APIBaseURL, scheduling.FormatDate(s.config.date), practitioner)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("list practitioner %s: %w", practitioner, err)
		}

		var listed []listedAppointment
		err = json.NewDecoder(resp.Body).Decode(&listed)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("list practitioner %s: status %d", practitioner, resp.StatusCode)
		}
		if err != nil {
			return 0, fmt.Errorf("decode practitioner %s: %w", practitioner, err)
		}

		found, err := findOverlaps(listed)
		if err != nil {
			return 0, err
		}
		for _, o := range found {
			s.log.Error().
				Str("practitioner_id", practitioner.String()).
				Str("a", o.A.String()).
				Str("b", o.B.String()).
				Msg("overlapping appointments")
		}
		s.log.Info().
			Str("practitioner_id", practitioner.String()).
			Int("appointments", len(listed)).
			Int("overlaps", len(found)).
			Msg("schedule verified")
		total += len(found)
	}
	return total, nil
}

// findOverlaps returns every overlapping pair among non-cancelled rows.
func findOverlaps(listed []listedAppointment) ([]overlap, error) {
	type live struct {
		id uuid.UUID
		iv scheduling.Interval
	}

	rows := make([]live, 0, len(listed))
	for _, a := range listed {
		if scheduling.AppointmentStatus(a.Status) == scheduling.StatusCancelled {
			continue
		}
		start, err := scheduling.ParseTimeOfDay(a.Start)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		end, err := scheduling.ParseTimeOfDay(a.End)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		rows = append(rows, live{id: a.ID, iv: scheduling.NewInterval(start, end)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].iv.Start < rows[j].iv.Start })

	var out []overlap
	for i := range rows {
		for j := i + 1; j < len(rows) && rows[j].iv.Start < rows[i].iv.End; j++ {
			if rows[i].iv.Overlaps(rows[j].iv) {
				out = append(out, overlap{A: rows[i].id, B: rows[j].id})
			}
		}
	}
	return out, nil
}

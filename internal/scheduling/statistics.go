package scheduling

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

const topN = 5

// DateRange is inclusive on both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return &ValidationError{Field: "from", Message: "both from and to are required"}
	}
	if DateOf(r.To).Before(DateOf(r.From)) {
		return &ValidationError{Field: "to", Message: "to must not be before from"}
	}
	return nil
}

type PractitionerCount struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Count          int       `json:"count"`
}

type DayCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

type StatsSnapshot struct {
	From                   time.Time
	To                     time.Time
	Total                  int
	ByStatus               map[AppointmentStatus]int
	ByKind                 map[AppointmentKind]int
	ActivePractitioners    int
	UniquePatients         int
	FinalizedEncounters    int
	AverageDurationMinutes float64
	// Rates are percentages of Total rounded to two decimals.
	CompletionRate   float64
	AttendanceRate   float64
	CancellationRate float64
	NoShowRate       float64
	TopPractitioners []PractitionerCount
	BusiestDays      []DayCount
}

type DailySummary struct {
	Date         time.Time
	Today        int
	Yesterday    int
	Growth       int
	Waiting      int
	InEncounter  int
	Completed    int
	Cancelled    int
	NoShows      int
	Remaining    int
	PatientsWeek int
}

// StatisticsService answers reporting queries. It only reads.
type StatisticsService struct {
	core
}

func NewStatisticsService(repo Repository, opts Options) *StatisticsService {
	return &StatisticsService{core: newCore(repo, opts, "statistics")}
}

// Compute aggregates the appointments and finalized encounters of a date
// range, optionally for one practitioner.
func (s *StatisticsService) Compute(ctx context.Context, r DateRange, practitionerID *uuid.UUID) (_ *StatsSnapshot, err error) {
	ctx, finish := s.startOp(ctx, "statistics.compute")
	defer func() { finish(err) }()

	if err := r.Validate(); err != nil {
		return nil, err
	}
	from, to := DateOf(r.From), DateOf(r.To)

	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: from, To: to, PractitionerID: practitionerID})
	if err != nil {
		return nil, persistence("list appointments", err)
	}
	encounters, err := s.repo.ListFinalizedEncounters(ctx, from, to, practitionerID)
	if err != nil {
		return nil, persistence("list finalized encounters", err)
	}

	snap := aggregate(appts, encounters)
	snap.From, snap.To = from, to
	return snap, nil
}

func aggregate(appts []Appointment, encounters []Encounter) *StatsSnapshot {
	snap := &StatsSnapshot{
		Total:    len(appts),
		ByStatus: make(map[AppointmentStatus]int),
		ByKind:   make(map[AppointmentKind]int),
	}

	practitioners := make(map[uuid.UUID]int)
	patients := make(map[uuid.UUID]struct{})
	days := make(map[time.Time]int)
	for _, a := range appts {
		snap.ByStatus[a.Status]++
		snap.ByKind[a.Kind]++
		practitioners[a.PractitionerID]++
		if a.PatientID != uuid.Nil {
			patients[a.PatientID] = struct{}{}
		}
		days[DateOf(a.Date)]++
	}
	snap.ActivePractitioners = len(practitioners)
	snap.UniquePatients = len(patients)

	sum, n := 0, 0
	for _, e := range encounters {
		if e.Status != EncounterFinalized || e.DurationMinutes == nil {
			continue
		}
		sum += *e.DurationMinutes
		n++
	}
	snap.FinalizedEncounters = n
	if n > 0 {
		snap.AverageDurationMinutes = round2(float64(sum) / float64(n))
	}

	total := snap.Total
	cancelled := snap.ByStatus[StatusCancelled]
	noShows := snap.ByStatus[StatusNoShow]
	snap.CompletionRate = rate(snap.ByStatus[StatusCompleted], total)
	snap.AttendanceRate = rate(total-cancelled-noShows, total)
	snap.CancellationRate = rate(cancelled, total)
	snap.NoShowRate = rate(noShows, total)

	for id, c := range practitioners {
		snap.TopPractitioners = append(snap.TopPractitioners, PractitionerCount{PractitionerID: id, Count: c})
	}
	sort.Slice(snap.TopPractitioners, func(i, j int) bool {
		a, b := snap.TopPractitioners[i], snap.TopPractitioners[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.PractitionerID.String() < b.PractitionerID.String()
	})
	if len(snap.TopPractitioners) > topN {
		snap.TopPractitioners = snap.TopPractitioners[:topN]
	}

	for d, c := range days {
		snap.BusiestDays = append(snap.BusiestDays, DayCount{Date: d, Count: c})
	}
	sort.Slice(snap.BusiestDays, func(i, j int) bool {
		a, b := snap.BusiestDays[i], snap.BusiestDays[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Date.Before(b.Date)
	})
	if len(snap.BusiestDays) > topN {
		snap.BusiestDays = snap.BusiestDays[:topN]
	}
	return snap
}

func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

// round2 keeps two decimals, rounding halves to even.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// Growth is the day-over-day change used by the reception dashboard:
// 0 when both days are empty, current*100 when only the previous day is
// empty, otherwise the rounded percentage change. Halves round to even.
func Growth(current, previous int) int {
	switch {
	case previous == 0 && current == 0:
		return 0
	case previous == 0:
		return current * 100
	default:
		return int(math.RoundToEven(float64(current-previous) / float64(previous) * 100))
	}
}

// DailySummary builds the reception dashboard figures for one date.
func (s *StatisticsService) DailySummary(ctx context.Context, date time.Time, practitionerID *uuid.UUID) (_ *DailySummary, err error) {
	ctx, finish := s.startOp(ctx, "statistics.daily_summary")
	defer func() { finish(err) }()

	if date.IsZero() {
		date = s.now()
	}
	day := DateOf(date)
	yesterday := day.AddDate(0, 0, -1)

	today, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: day, To: day, PractitionerID: practitionerID})
	if err != nil {
		return nil, persistence("list appointments", err)
	}
	prev, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: yesterday, To: yesterday, PractitionerID: practitionerID})
	if err != nil {
		return nil, persistence("list appointments", err)
	}

	weekStart := day.AddDate(0, 0, -int(day.Weekday()))
	week, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: weekStart, To: weekStart.AddDate(0, 0, 6), PractitionerID: practitionerID})
	if err != nil {
		return nil, persistence("list appointments", err)
	}

	sum := &DailySummary{
		Date:      day,
		Today:     len(today),
		Yesterday: len(prev),
		Growth:    Growth(len(today), len(prev)),
	}
	for _, a := range today {
		switch a.Status {
		case StatusCheckedIn:
			sum.Waiting++
		case StatusInEncounter:
			sum.InEncounter++
		case StatusCompleted:
			sum.Completed++
		case StatusCancelled:
			sum.Cancelled++
		case StatusNoShow:
			sum.NoShows++
		}
		if a.Status != StatusCompleted && a.Status != StatusCancelled {
			sum.Remaining++
		}
	}
	patients := make(map[uuid.UUID]struct{})
	for _, a := range week {
		if a.PatientID != uuid.Nil {
			patients[a.PatientID] = struct{}{}
		}
	}
	sum.PatientsWeek = len(patients)

	s.log.Debug().
		Str("date", FormatDate(day)).
		Int("today", sum.Today).
		Int("yesterday", sum.Yesterday).
		Int("growth", sum.Growth).
		Msg("daily summary computed")
	return sum, nil
}

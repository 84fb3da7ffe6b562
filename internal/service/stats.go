package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/rmartins/event-access-control/internal/cache"
	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
)

// recentActivitySize is the number of ledger rows shown on the stats view.
const recentActivitySize = 20

// ActivityItem is one ledger row of the stats activity feed.
type ActivityItem struct {
	ID              uint64    `json:"id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Type            string    `json:"type"`
	Gate            string    `json:"gate,omitempty"`
	OperatorName    string    `json:"operator,omitempty"`
	Forced          bool      `json:"forced,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// InsideParticipant is one currently-inside participant on the stats view.
type InsideParticipant struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
	Name    string `json:"name"`
}

// StatsView is the full statistics response for one event.
type StatsView struct {
	EventID             uint64                     `json:"event_id"`
	EventCode           string                     `json:"event_code"`
	EventName           string                     `json:"event_name"`
	CurrentInsideCount  int64                      `json:"current_inside_count"`
	TotalEntries        int64                      `json:"total_entries"`
	TotalExits          int64                      `json:"total_exits"`
	UniqueVisitors      int64                      `json:"unique_visitors"`
	PeakCount           int64                      `json:"peak_count"`
	PeakTime            *time.Time                 `json:"peak_time,omitempty"`
	LastEntryAt         *time.Time                 `json:"last_entry_at,omitempty"`
	LastExitAt          *time.Time                 `json:"last_exit_at,omitempty"`
	OccupancyPercentage int                        `json:"occupancy_percentage"`
	MaxCapacity         uint32                     `json:"max_capacity"`
	RegisteredCount     uint32                     `json:"registered_count"`
	ParticipantsInside  []InsideParticipant        `json:"participants_inside"`
	RecentActivity      []ActivityItem             `json:"recent_activity"`
	HourlyToday         []repository.HourlyBucket  `json:"hourly_today"`
	GeneratedAt         time.Time                  `json:"generated_at"`
}

// StatsService assembles the statistics view from the rollup row and
// the ledger, with a short-lived Redis cache in front.  It also runs
// the periodic reconciliation that recomputes the rollup from the
// ledger and corrects any drift (raising, never lowering, the peak).
type StatsService struct {
	events       *repository.EventRepo
	stats        *repository.StatsRepo
	logs         *repository.AccessLogRepo
	participants *repository.ParticipantRepo
	cache        *cache.Cache
}

// NewStatsService builds a StatsService.  Cache may be nil.
func NewStatsService(events *repository.EventRepo, stats *repository.StatsRepo,
	logs *repository.AccessLogRepo, participants *repository.ParticipantRepo, c *cache.Cache) *StatsService {
	return &StatsService{events: events, stats: stats, logs: logs, participants: participants, cache: c}
}

// View returns the statistics for the event, serving from cache when
// the rollup has not changed since the last read.
func (s *StatsService) View(ctx context.Context, eventID uint64) (*StatsView, error) {
	if s.cache != nil {
		var cached StatsView
		if s.cache.GetJSON(ctx, &cached, "stats", strconv.FormatUint(eventID, 10)) {
			return &cached, nil
		}
	}

	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	st, err := s.stats.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	recent, err := s.logs.RecentActivity(ctx, eventID, recentActivitySize)
	if err != nil {
		return nil, err
	}
	insideIDs, err := s.logs.ParticipantsInside(ctx, eventID)
	if err != nil {
		return nil, err
	}
	insideParticipants, err := s.participants.ListByIDs(ctx, insideIDs)
	if err != nil {
		return nil, err
	}
	hourly, err := s.logs.HourlyToday(ctx, eventID)
	if err != nil {
		return nil, err
	}

	view := &StatsView{
		EventID:             ev.ID,
		EventCode:           ev.Code,
		EventName:           ev.Name,
		CurrentInsideCount:  st.CurrentInsideCount,
		TotalEntries:        st.TotalEntries,
		TotalExits:          st.TotalExits,
		UniqueVisitors:      st.UniqueVisitors,
		PeakCount:           st.PeakCount,
		PeakTime:            st.PeakTime,
		LastEntryAt:         st.LastEntryAt,
		LastExitAt:          st.LastExitAt,
		OccupancyPercentage: st.OccupancyPercentage(ev.MaxCapacity),
		MaxCapacity:         ev.MaxCapacity,
		RegisteredCount:     ev.CurrentCount,
		ParticipantsInside:  make([]InsideParticipant, 0, len(insideParticipants)),
		RecentActivity:      make([]ActivityItem, 0, len(recent)),
		HourlyToday:         hourly,
		GeneratedAt:         time.Now().UTC(),
	}
	for i := range insideParticipants {
		p := &insideParticipants[i]
		view.ParticipantsInside = append(view.ParticipantsInside, InsideParticipant{
			ID: p.ID, ShortID: p.ShortID, Name: p.Name,
		})
	}
	for i := range recent {
		lw := &recent[i]
		view.RecentActivity = append(view.RecentActivity, ActivityItem{
			ID:              lw.ID,
			ParticipantID:   lw.ParticipantID,
			ParticipantName: lw.ParticipantName,
			Type:            lw.Type,
			Gate:            lw.Gate,
			OperatorName:    lw.OperatorName,
			Forced:          lw.Forced,
			CreatedAt:       lw.CreatedAt,
		})
	}

	if s.cache != nil {
		s.cache.SetJSON(ctx, view, "stats", strconv.FormatUint(eventID, 10))
	}
	return view, nil
}

// Reconciled is one event's outcome of a reconciliation pass.
type Reconciled struct {
	EventID   uint64             `json:"event_id"`
	Corrected bool               `json:"corrected"`
	Stats     *model.AccessStats `json:"stats"`
}

// ReconcileAll recomputes every event's rollup from the ledger and
// corrects drifted counters.  PeakCount is only ever raised.
func (s *StatsService) ReconcileAll(ctx context.Context) ([]Reconciled, error) {
	ids, err := s.stats.EventIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Reconciled, 0, len(ids))
	for _, id := range ids {
		st, corrected, err := s.stats.Reconcile(ctx, id)
		if err != nil {
			slog.Error("stats: reconcile failed", "event_id", id, "err", err)
			continue
		}
		if corrected {
			slog.Warn("stats: rollup drift corrected", "event_id", id,
				"inside", st.CurrentInsideCount, "entries", st.TotalEntries, "exits", st.TotalExits)
			if s.cache != nil {
				s.cache.InvalidateEventStats(ctx, id)
			}
		}
		out = append(out, Reconciled{EventID: id, Corrected: corrected, Stats: st})
	}
	return out, nil
}

// RunReconcileLoop reconciles every interval until the context is
// cancelled.  Intended to run in its own goroutine.
func (s *StatsService) RunReconcileLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ReconcileAll(ctx); err != nil {
				slog.Error("stats: reconcile pass failed", "err", err)
			}
		}
	}
}

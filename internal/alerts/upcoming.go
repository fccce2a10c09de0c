package alerts

import (
	"context"
	"fmt"
	"time"

	"timetabled/internal/domain"
)

type NextAlert struct {
	MinutesBefore int    `json:"minutes_before"`
	AlertTime     string `json:"alert_time"`
}

// ScheduledClass is one of today's sessions with the alerts still ahead of it.
type ScheduledClass struct {
	ID         string      `json:"id"`
	Unit       string      `json:"unit"`
	StartTime  string      `json:"start_time"`
	EndTime    string      `json:"end_time"`
	Day        string      `json:"day"`
	NextAlerts []NextAlert `json:"next_alerts"`
}

// Upcoming lists today's classes, each annotated with the configured alerts
// whose firing time has not passed yet.
func (s *Scheduler) Upcoming(ctx context.Context) ([]ScheduledClass, error) {
	now := s.now().In(s.loc)
	day := domain.Weekday(now)
	sessions, err := s.store.ListSessionsForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", day, err)
	}

	intervals := s.currentIntervals()
	out := make([]ScheduledClass, 0, len(sessions))
	for _, cs := range sessions {
		startAt := cs.StartTime.On(now)
		next := []NextAlert{}
		for _, lead := range intervals {
			at := startAt.Add(-time.Duration(lead) * time.Minute)
			if at.After(now) {
				next = append(next, NextAlert{MinutesBefore: lead, AlertTime: at.Format("15:04")})
			}
		}
		out = append(out, ScheduledClass{
			ID:         cs.ID,
			Unit:       cs.Unit,
			StartTime:  cs.StartTime.String(),
			EndTime:    cs.EndTime.String(),
			Day:        cs.Day,
			NextAlerts: next,
		})
	}
	return out, nil
}

// Package alerts runs the class alert scheduler: a ticker loop that texts
// students ahead of each of today's classes at the configured lead times.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timetabled/internal/compose"
	"timetabled/internal/domain"
	"timetabled/internal/metrics"
	"timetabled/internal/sms"
)

var ErrInvalidIntervals = errors.New("alert intervals must be distinct positive minutes")

// DefaultIntervals fire two hours, thirty minutes and five minutes ahead.
var DefaultIntervals = []int{120, 30, 5}

const DefaultTick = 60 * time.Second

// Store is the read side of the timetable.
type Store interface {
	ListSessionsForDay(ctx context.Context, day string) ([]domain.ClassSession, error)
	GetSession(ctx context.Context, id string) (domain.ClassSession, error)
}

// Directory resolves who receives alerts.
type Directory interface {
	ListActiveRecipients(ctx context.Context) ([]string, error)
}

// DeliveryLog records send attempts for auditing.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d domain.Delivery) error
}

type Options struct {
	Tick      time.Duration // default DefaultTick
	Tolerance time.Duration // default Tick
	Location  *time.Location
	Intervals []int // default DefaultIntervals

	Now        func() time.Time
	Logger     *zerolog.Logger
	Metrics    *metrics.Collector
	Deliveries DeliveryLog
}

// Status is the externally visible scheduler state.
type Status struct {
	Running        bool  `json:"running"`
	AlertIntervals []int `json:"alert_intervals"`
}

// TickReport summarizes one CheckAndFire pass.
type TickReport struct {
	Day        string
	Sessions   int
	Recipients int
	Fired      int
	Failed     int
	Skipped    string // non-empty when the tick did no work
}

type Scheduler struct {
	store      Store
	dir        Directory
	sender     sms.Sender
	deliveries DeliveryLog
	metrics    *metrics.Collector
	log        zerolog.Logger

	tick      time.Duration
	tolerance time.Duration
	loc       *time.Location
	now       func() time.Time
	sent      *sentSet

	mu        sync.Mutex
	running   bool
	intervals []int
	stop      chan struct{}

	// serializes ticks so a stop/start cycle never overlaps two of them
	tickMu sync.Mutex
}

func NewScheduler(store Store, dir Directory, sender sms.Sender, opts Options) (*Scheduler, error) {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = opts.Tick
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Intervals == nil {
		opts.Intervals = DefaultIntervals
	}
	if err := validateIntervals(opts.Intervals); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Scheduler{
		store:      store,
		dir:        dir,
		sender:     sender,
		deliveries: opts.Deliveries,
		metrics:    opts.Metrics,
		log:        logger.With().Str("component", "alert-scheduler").Logger(),
		tick:       opts.Tick,
		tolerance:  opts.Tolerance,
		loc:        opts.Location,
		now:        opts.Now,
		sent:       newSentSet(),
		intervals:  append([]int(nil), opts.Intervals...),
	}, nil
}

func validateIntervals(intervals []int) error {
	if len(intervals) == 0 {
		return ErrInvalidIntervals
	}
	seen := make(map[int]struct{}, len(intervals))
	for _, m := range intervals {
		if m <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidIntervals, m)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("%w: %d repeated", ErrInvalidIntervals, m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

// Start launches the polling loop in the background and reports whether it
// was started by this call. ctx bounds the loop's lifetime, so pass a
// process-scoped context rather than a request context.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.metrics.SetRunning(true)
	go s.run(ctx, s.stop)
	return true
}

// Stop asks the loop to exit at its next iteration. An in-flight tick is
// allowed to finish. It reports whether the loop was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	close(s.stop)
	s.stop = nil
	s.running = false
	s.metrics.SetRunning(false)
	s.log.Info().Msg("alert scheduler stop requested")
	return true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, AlertIntervals: append([]int(nil), s.intervals...)}
}

// SetIntervals replaces the lead-time set. The next tick picks it up.
func (s *Scheduler) SetIntervals(intervals []int) error {
	if err := validateIntervals(intervals); err != nil {
		return err
	}
	next := append([]int(nil), intervals...)
	s.mu.Lock()
	s.intervals = next
	s.mu.Unlock()
	s.log.Info().Ints("alert_intervals", next).Msg("alert intervals updated")
	return nil
}

func (s *Scheduler) currentIntervals() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals
}

func (s *Scheduler) run(ctx context.Context, stop chan struct{}) {
	defer s.exited(stop)

	// day rollover: forget yesterday's sends at local midnight
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc("0 0 * * *", s.evictStale); err != nil {
		s.log.Error().Err(err).Msg("failed to schedule sent-set eviction")
	}
	c.Start()
	defer c.Stop()

	s.log.Info().Dur("interval", s.tick).Dur("tolerance", s.tolerance).Ints("alert_intervals", s.Status().AlertIntervals).Msg("alert scheduler started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		s.CheckAndFire(ctx)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) exited(stop chan struct{}) {
	s.mu.Lock()
	// a newer loop may own the state already
	if s.stop == stop {
		s.running = false
		s.stop = nil
		s.metrics.SetRunning(false)
	}
	s.mu.Unlock()
	s.log.Info().Msg("alert scheduler stopped")
}

func (s *Scheduler) evictStale() {
	today := s.now().In(s.loc).Format(dateLayout)
	if n := s.sent.evictBefore(today); n > 0 {
		s.log.Debug().Int("evicted", n).Msg("cleared previous days' sent alerts")
	}
}

// CheckAndFire runs one tick: every due (class, lead time) pair for today is
// sent once. Failures are logged per pair and never abort the tick.
func (s *Scheduler) CheckAndFire(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	defer func() { s.metrics.RecordTick(time.Since(started).Seconds()) }()

	now := s.now().In(s.loc)
	date := now.Format(dateLayout)
	report := TickReport{Day: domain.Weekday(now)}
	s.sent.evictBefore(date)

	sessions, err := s.store.ListSessionsForDay(ctx, report.Day)
	if err != nil {
		s.log.Error().Err(err).Str("day", report.Day).Msg("failed to fetch today's timetable")
		return s.skip(report, "store_unavailable")
	}
	report.Sessions = len(sessions)
	if len(sessions) == 0 {
		return report
	}

	recipients, err := s.dir.ListActiveRecipients(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch recipients")
		return s.skip(report, "directory_unavailable")
	}
	if len(recipients) == 0 {
		s.log.Warn().Int("sessions", len(sessions)).Msg("no active recipients, skipping tick")
		return s.skip(report, "no_recipients")
	}
	report.Recipients = len(recipients)

	intervals := s.currentIntervals()
	for _, cs := range sessions {
		startAt := cs.StartTime.On(now)
		for _, lead := range intervals {
			alertAt := startAt.Add(-time.Duration(lead) * time.Minute)
			if !withinWindow(now, alertAt, s.tolerance) {
				continue
			}
			key := sentKey{classID: cs.ID, lead: lead, date: date}
			if s.sent.seen(key) {
				continue
			}
			if err := s.safeFire(ctx, cs, recipients, lead); err != nil {
				report.Failed++
				s.log.Error().Err(err).Str("class_id", cs.ID).Str("unit", cs.Unit).Int("minutes_before", lead).Msg("class alert failed")
				continue
			}
			s.sent.mark(key)
			report.Fired++
		}
	}
	return report
}

func (s *Scheduler) skip(r TickReport, reason string) TickReport {
	r.Skipped = reason
	s.metrics.RecordSkipped(reason)
	return r
}

func withinWindow(now, at time.Time, tolerance time.Duration) bool {
	d := now.Sub(at)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// safeFire turns a panic while handling one pair into an error.
func (s *Scheduler) safeFire(ctx context.Context, cs domain.ClassSession, recipients []string, lead int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic sending alert: %v", r)
		}
	}()
	return s.fire(ctx, cs, recipients, lead)
}

func (s *Scheduler) fire(ctx context.Context, cs domain.ClassSession, recipients []string, lead int) error {
	kind := domain.KindReminder
	if compose.IsImminent(lead) {
		kind = domain.KindImminent
	}
	msg := compose.ForLead(cs.Unit, cs.StartTime.String(), cs.EndTime.String(), lead)

	res, err := s.sender.Send(ctx, recipients, msg)
	classID := cs.ID
	s.record(ctx, domain.Delivery{ClassID: &classID, LeadMinutes: lead, Kind: kind, Recipients: len(recipients)}, res, err)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("class_id", cs.ID).
		Str("unit", cs.Unit).
		Int("minutes_before", lead).
		Int("recipients", len(recipients)).
		Msg("class alert sent")
	return nil
}

func (s *Scheduler) record(ctx context.Context, d domain.Delivery, res sms.Result, sendErr error) {
	if sendErr != nil {
		d.Detail = sendErr.Error()
		s.metrics.RecordFailed(d.Kind)
	} else {
		d.Success = true
		d.Detail = res.Detail
		s.metrics.RecordSent(d.Kind)
	}
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.RecordDelivery(ctx, d); err != nil {
		s.log.Warn().Err(err).Str("kind", d.Kind).Msg("failed to record delivery")
	}
}

// SendImmediateAlert sends the imminent message for one class right away,
// ignoring alert windows.
func (s *Scheduler) SendImmediateAlert(ctx context.Context, classID string) (domain.ClassSession, error) {
	cs, err := s.store.GetSession(ctx, classID)
	if err != nil {
		return domain.ClassSession{}, fmt.Errorf("get class %s: %w", classID, err)
	}
	recipients, err := s.dir.ListActiveRecipients(ctx)
	if err != nil {
		return cs, fmt.Errorf("list recipients: %w", err)
	}
	if len(recipients) == 0 {
		return cs, domain.ErrNoRecipients
	}
	return cs, s.fire(ctx, cs, recipients, 0)
}

// SendCustomMessage sends text verbatim. With no recipients given, every
// active recipient gets it.
func (s *Scheduler) SendCustomMessage(ctx context.Context, text string, recipients []string) (sms.Result, error) {
	if len(recipients) == 0 {
		var err error
		recipients, err = s.dir.ListActiveRecipients(ctx)
		if err != nil {
			return sms.Result{}, fmt.Errorf("list recipients: %w", err)
		}
	} else {
		recipients = sms.NormalizeAll(recipients)
	}
	return s.sendKind(ctx, domain.KindCustom, recipients, text)
}

// SendTestMessage sends text to a single number.
func (s *Scheduler) SendTestMessage(ctx context.Context, phone, text string) (sms.Result, error) {
	return s.sendKind(ctx, domain.KindTest, sms.NormalizeAll([]string{phone}), text)
}

func (s *Scheduler) sendKind(ctx context.Context, kind string, recipients []string, text string) (sms.Result, error) {
	if len(recipients) == 0 {
		return sms.Result{}, domain.ErrNoRecipients
	}
	res, err := s.sender.Send(ctx, recipients, text)
	s.record(ctx, domain.Delivery{Kind: kind, Recipients: len(recipients)}, res, err)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Int("recipients", len(recipients)).Msg("message send failed")
		return res, err
	}
	s.log.Info().Str("kind", kind).Int("recipients", len(recipients)).Msg("message sent")
	return res, nil
}

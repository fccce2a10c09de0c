package alerts

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetabled/internal/compose"
	"timetabled/internal/domain"
	"timetabled/internal/metrics"
	"timetabled/internal/sms"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []domain.ClassSession
	err      error
	calls    int
}

func (f *fakeStore) ListSessionsForDay(ctx context.Context, day string) ([]domain.ClassSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ClassSession
	for _, s := range f.sessions {
		if s.Day == day {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (domain.ClassSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.ClassSession{}, domain.ErrNotFound
}

func (f *fakeStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDirectory struct {
	recipients []string
	err        error
}

func (f *fakeDirectory) ListActiveRecipients(ctx context.Context) ([]string, error) {
	return f.recipients, f.err
}

type sent struct {
	to   []string
	body string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	fail  func(body string) error
	panic string // panic when body contains this
}

func (f *fakeSender) Send(ctx context.Context, to []string, body string) (sms.Result, error) {
	if f.panic != "" && bytes.Contains([]byte(body), []byte(f.panic)) {
		panic("boom")
	}
	if f.fail != nil {
		if err := f.fail(body); err != nil {
			return sms.Result{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, body: body})
	return sms.Result{Success: true, Detail: "ok"}, nil
}

func (f *fakeSender) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeDeliveries struct {
	mu sync.Mutex
	ds []domain.Delivery
}

func (f *fakeDeliveries) RecordDelivery(ctx context.Context, d domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ds = append(f.ds, d)
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var nairobi = time.FixedZone("EAT", 3*3600)

// 2024-01-15 is a Monday.
func monday(hh, mm, ss int) time.Time {
	return time.Date(2024, 1, 15, hh, mm, ss, 0, nairobi)
}

func mathSession() domain.ClassSession {
	return domain.ClassSession{
		ID:        "cls_math",
		Unit:      "Math",
		StartTime: domain.MustTimeOfDay("09:00"),
		EndTime:   domain.MustTimeOfDay("11:00"),
		Day:       "monday",
	}
}

type fixture struct {
	store      *fakeStore
	dir        *fakeDirectory
	sender     *fakeSender
	deliveries *fakeDeliveries
	clock      *clock
	logs       *bytes.Buffer
	sched      *Scheduler
}

func newFixture(t *testing.T, opts Options, sessions ...domain.ClassSession) *fixture {
	t.Helper()
	f := &fixture{
		store:      &fakeStore{sessions: sessions},
		dir:        &fakeDirectory{recipients: []string{"+254700000001", "+254700000002"}},
		sender:     &fakeSender{},
		deliveries: &fakeDeliveries{},
		clock:      &clock{t: monday(6, 0, 0)},
		logs:       &bytes.Buffer{},
	}
	logger := zerolog.New(&syncWriter{w: f.logs})
	opts.Location = nairobi
	opts.Now = f.clock.Now
	opts.Logger = &logger
	opts.Deliveries = f.deliveries
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(prometheus.NewRegistry())
	}
	s, err := NewScheduler(f.store, f.dir, f.sender, opts)
	require.NoError(t, err)
	f.sched = s
	return f
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func TestImminentAlertAtFiveMinutes(t *testing.T) {
	f := newFixture(t, Options{Tick: time.Minute, Tolerance: time.Minute}, mathSession())
	f.clock.Set(monday(8, 55, 0))

	report := f.sched.CheckAndFire(context.Background())

	assert.Equal(t, 1, report.Fired)
	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, compose.Imminent("Math", "09:00", "11:00"), sent[0].body)
	assert.Contains(t, sent[0].body, "Math")
	assert.Contains(t, sent[0].body, "09:00 - 11:00")
	assert.Equal(t, []string{"+254700000001", "+254700000002"}, sent[0].to)

	require.Len(t, f.deliveries.ds, 1)
	assert.Equal(t, domain.KindImminent, f.deliveries.ds[0].Kind)
	assert.Equal(t, 5, f.deliveries.ds[0].LeadMinutes)
	assert.True(t, f.deliveries.ds[0].Success)
}

func TestEachLeadTimeFiresExactlyOnce(t *testing.T) {
	for _, offset := range []time.Duration{0, 17 * time.Second, 59 * time.Second} {
		f := newFixture(t, Options{Tick: time.Minute}, mathSession())

		for now := monday(6, 0, 0).Add(offset); now.Before(monday(9, 30, 0)); now = now.Add(time.Minute) {
			f.clock.Set(now)
			f.sched.CheckAndFire(context.Background())
		}

		sent := f.sender.Sent()
		require.Len(t, sent, 3, "offset %s", offset)
		assert.Equal(t, compose.Reminder("Math", "09:00", "11:00", 120), sent[0].body)
		assert.Contains(t, sent[0].body, "Starts in 2 hours")
		assert.Equal(t, compose.Reminder("Math", "09:00", "11:00", 30), sent[1].body)
		assert.Equal(t, compose.Imminent("Math", "09:00", "11:00"), sent[2].body)
	}
}

func TestNoFiringOutsideWindow(t *testing.T) {
	// five-minute ticks starting at 06:02 never land within a minute of 07:00, 08:30 or 08:55
	f := newFixture(t, Options{Tick: 5 * time.Minute, Tolerance: time.Minute}, mathSession())
	for now := monday(6, 2, 0); now.Before(monday(9, 30, 0)); now = now.Add(5 * time.Minute) {
		f.clock.Set(now)
		f.sched.CheckAndFire(context.Background())
	}
	assert.Empty(t, f.sender.Sent())
}

func TestLeadTimesInConfiguredOrder(t *testing.T) {
	f := newFixture(t, Options{Intervals: []int{5, 10}, Tolerance: 3 * time.Minute}, mathSession())
	f.clock.Set(monday(8, 52, 30)) // 2.5 minutes from both 08:50 and 08:55

	report := f.sched.CheckAndFire(context.Background())
	require.Equal(t, 2, report.Fired)
	require.Len(t, f.deliveries.ds, 2)
	assert.Equal(t, 5, f.deliveries.ds[0].LeadMinutes)
	assert.Equal(t, 10, f.deliveries.ds[1].LeadMinutes)
}

func TestSessionsOnlyForToday(t *testing.T) {
	tuesday := mathSession()
	tuesday.ID = "cls_tue"
	tuesday.Day = "tuesday"
	f := newFixture(t, Options{}, tuesday)
	f.clock.Set(monday(8, 55, 0))

	report := f.sched.CheckAndFire(context.Background())
	assert.Equal(t, "monday", report.Day)
	assert.Equal(t, 0, report.Sessions)
	assert.Empty(t, f.sender.Sent())
}

func TestEmptyRecipientsSkipsTick(t *testing.T) {
	f := newFixture(t, Options{}, mathSession())
	f.dir.recipients = nil
	f.clock.Set(monday(8, 55, 0))

	report := f.sched.CheckAndFire(context.Background())

	assert.Equal(t, "no_recipients", report.Skipped)
	assert.Empty(t, f.sender.Sent())
	assert.Contains(t, f.logs.String(), `"level":"warn"`)
	assert.Contains(t, f.logs.String(), "no active recipients")
}

func TestStoreAndDirectoryFailuresSkipTick(t *testing.T) {
	f := newFixture(t, Options{}, mathSession())
	f.clock.Set(monday(8, 55, 0))

	f.store.err = errors.New("database is locked")
	report := f.sched.CheckAndFire(context.Background())
	assert.Equal(t, "store_unavailable", report.Skipped)

	f.store.err = nil
	f.dir.err = errors.New("directory down")
	report = f.sched.CheckAndFire(context.Background())
	assert.Equal(t, "directory_unavailable", report.Skipped)

	assert.Empty(t, f.sender.Sent())
}

func TestFailedSendRetriesWithinWindow(t *testing.T) {
	f := newFixture(t, Options{}, mathSession())
	calls := 0
	f.sender.fail = func(string) error {
		calls++
		if calls == 1 {
			return &sms.DeliveryError{StatusCode: 500, Body: "carrier down"}
		}
		return nil
	}

	f.clock.Set(monday(8, 54, 0))
	report := f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Fired)

	f.clock.Set(monday(8, 55, 0))
	report = f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 1, report.Fired)

	f.clock.Set(monday(8, 56, 0))
	report = f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 0, report.Fired)

	assert.Len(t, f.sender.Sent(), 1)
	require.Len(t, f.deliveries.ds, 2)
	assert.False(t, f.deliveries.ds[0].Success)
	assert.Contains(t, f.deliveries.ds[0].Detail, "carrier down")
}

func TestPanicInOnePairDoesNotAbortTick(t *testing.T) {
	physics := domain.ClassSession{ID: "cls_phy", Unit: "Physics", StartTime: domain.MustTimeOfDay("09:00"), EndTime: domain.MustTimeOfDay("10:00"), Day: "monday"}
	f := newFixture(t, Options{}, mathSession(), physics)
	f.sender.panic = "Math"
	f.clock.Set(monday(8, 55, 0))

	report := f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Fired)
	require.Len(t, f.sender.Sent(), 1)
	assert.Contains(t, f.sender.Sent()[0].body, "Physics")
}

func TestSentSetEvictedOnNewDay(t *testing.T) {
	f := newFixture(t, Options{}, mathSession())
	f.clock.Set(monday(8, 55, 0))
	f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 1, f.sched.sent.len())

	f.clock.Set(monday(8, 55, 0).AddDate(0, 0, 1))
	f.sched.evictStale()
	assert.Equal(t, 0, f.sched.sent.len())

	// a week later the same class fires again
	f.clock.Set(monday(8, 55, 0).AddDate(0, 0, 7))
	report := f.sched.CheckAndFire(context.Background())
	assert.Equal(t, 1, report.Fired)
}

func TestSetIntervals(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, []int{120, 30, 5}, f.sched.Status().AlertIntervals)

	require.NoError(t, f.sched.SetIntervals([]int{60, 15}))
	assert.Equal(t, []int{60, 15}, f.sched.Status().AlertIntervals)

	assert.ErrorIs(t, f.sched.SetIntervals([]int{10, 10}), ErrInvalidIntervals)
	assert.ErrorIs(t, f.sched.SetIntervals([]int{0}), ErrInvalidIntervals)
	assert.ErrorIs(t, f.sched.SetIntervals(nil), ErrInvalidIntervals)
	assert.Equal(t, []int{60, 15}, f.sched.Status().AlertIntervals)

	st := f.sched.Status()
	st.AlertIntervals[0] = 999
	assert.Equal(t, []int{60, 15}, f.sched.Status().AlertIntervals)
}

func TestNewSchedulerRejectsBadIntervals(t *testing.T) {
	_, err := NewScheduler(&fakeStore{}, &fakeDirectory{}, &fakeSender{}, Options{Intervals: []int{30, -5}})
	assert.ErrorIs(t, err, ErrInvalidIntervals)
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	f := newFixture(t, Options{Tick: 5 * time.Millisecond}, mathSession())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(t, f.sched.Start(ctx))
	assert.False(t, f.sched.Start(ctx))
	assert.True(t, f.sched.Status().Running)

	assert.Eventually(t, func() bool { return f.store.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.sched.Stop())
	assert.False(t, f.sched.Status().Running)

	// a leaked second loop would keep polling the store
	time.Sleep(30 * time.Millisecond)
	calls := f.store.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.store.Calls())
}

func TestStopHaltsSends(t *testing.T) {
	f := newFixture(t, Options{Tick: 5 * time.Millisecond}, mathSession())
	f.clock.Set(monday(8, 55, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, f.sched.Start(ctx))
	assert.Eventually(t, func() bool { return len(f.sender.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.sched.Stop())
	assert.False(t, f.sched.Stop())
	assert.False(t, f.sched.Status().Running)

	// move to the next alert window; a live loop would send again
	f.clock.Set(monday(8, 55, 0).AddDate(0, 0, 7))
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, f.sender.Sent(), 1)
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t, Options{Tick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, f.sched.Start(ctx))
	require.True(t, f.sched.Stop())
	require.True(t, f.sched.Start(ctx))
	assert.True(t, f.sched.Status().Running)

	// the first loop exiting late must not flip the new one to stopped
	time.Sleep(30 * time.Millisecond)
	assert.True(t, f.sched.Status().Running)
	f.sched.Stop()
}

func TestContextCancelStopsLoop(t *testing.T) {
	f := newFixture(t, Options{Tick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, f.sched.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !f.sched.Status().Running }, time.Second, 5*time.Millisecond)
}

func TestSendImmediateAlert(t *testing.T) {
	f := newFixture(t, Options{}, mathSession())
	f.clock.Set(monday(13, 0, 0))

	cs, err := f.sched.SendImmediateAlert(context.Background(), "cls_math")
	require.NoError(t, err)
	assert.Equal(t, "Math", cs.Unit)
	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, compose.Imminent("Math", "09:00", "11:00"), f.sender.Sent()[0].body)
	assert.Equal(t, 0, f.deliveries.ds[0].LeadMinutes)

	_, err = f.sched.SendImmediateAlert(context.Background(), "cls_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.dir.recipients = nil
	_, err = f.sched.SendImmediateAlert(context.Background(), "cls_math")
	assert.ErrorIs(t, err, domain.ErrNoRecipients)
}

func TestSendCustomMessage(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.sched.SendCustomMessage(context.Background(), "School closes early", nil)
	require.NoError(t, err)
	_, err = f.sched.SendCustomMessage(context.Background(), "See me", []string{"0711111111", "+254711111111"})
	require.NoError(t, err)

	sent := f.sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "School closes early", sent[0].body)
	assert.Equal(t, []string{"+254700000001", "+254700000002"}, sent[0].to)
	assert.Equal(t, []string{"+254711111111"}, sent[1].to)
	assert.Equal(t, domain.KindCustom, f.deliveries.ds[1].Kind)

	f.dir.recipients = nil
	_, err = f.sched.SendCustomMessage(context.Background(), "anyone?", nil)
	assert.ErrorIs(t, err, domain.ErrNoRecipients)
}

func TestSendCustomMessageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.sender.fail = func(string) error { return &sms.DeliveryError{StatusCode: 401, Body: "bad key"} }

	_, err := f.sched.SendCustomMessage(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, sms.ErrDelivery)
	require.Len(t, f.deliveries.ds, 1)
	assert.False(t, f.deliveries.ds[0].Success)
}

func TestSendTestMessage(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.sched.SendTestMessage(context.Background(), "0712345678", "ping")
	require.NoError(t, err)
	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, []string{"+254712345678"}, f.sender.Sent()[0].to)
	assert.Equal(t, domain.KindTest, f.deliveries.ds[0].Kind)
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoRecipients   = errors.New("no active recipients")
	ErrInvalidSession = errors.New("invalid class session")
	ErrConflict       = errors.New("already exists")
)

// TimeOfDay is a wall-clock time expressed in seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

// String renders HH:MM, the format used in messages and API payloads.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors t to the calendar day of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), 0, d.Location())
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < secondsPerDay }

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t *TimeOfDay) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ClassSession is one scheduled occurrence of a unit on a weekday.
type ClassSession struct {
	ID        string    `json:"id"`
	Unit      string    `json:"unit"`
	StartTime TimeOfDay `json:"start_time"`
	EndTime   TimeOfDay `json:"end_time"`
	Day       string    `json:"day"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate normalizes Day and checks start < end.
func (c *ClassSession) Validate() error {
	if strings.TrimSpace(c.Unit) == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidSession)
	}
	day, err := NormalizeDay(c.Day)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	c.Day = day
	if !c.StartTime.Valid() || !c.EndTime.Valid() {
		return fmt.Errorf("%w: time out of range", ErrInvalidSession)
	}
	if c.StartTime >= c.EndTime {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidSession)
	}
	return nil
}

type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	StudentID string    `json:"student_id"`
	ClassName string    `json:"class_name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery kinds recorded in the delivery log.
const (
	KindReminder = "reminder"
	KindImminent = "imminent"
	KindCustom   = "custom"
	KindTest     = "test"
)

// Delivery is an audit record of one outbound send attempt.
type Delivery struct {
	ID          string    `json:"id"`
	ClassID     *string   `json:"class_id,omitempty"`
	LeadMinutes int       `json:"lead_minutes"`
	Kind        string    `json:"kind"`
	Recipients  int       `json:"recipients"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Weekday returns the lowercase English day name used as the timetable key.
func Weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

var weekdays = map[string]string{
	"monday": "monday", "mon": "monday",
	"tuesday": "tuesday", "tue": "tuesday", "tues": "tuesday",
	"wednesday": "wednesday", "wed": "wednesday",
	"thursday": "thursday", "thu": "thursday", "thur": "thursday", "thurs": "thursday",
	"friday": "friday", "fri": "friday",
	"saturday": "saturday", "sat": "saturday",
	"sunday": "sunday", "sun": "sunday",
}

// NormalizeDay maps "Monday", "mon", " MONDAY " etc. to "monday".
func NormalizeDay(s string) (string, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown day %q", s)
	}
	return d, nil
}

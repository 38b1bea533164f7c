// Package timezone converts UTC instants to zoned calendar days and back.
// All day-boundary math in the service goes through this package so that
// DST transitions and server locale never leak into streak or eligibility
// decisions.
package timezone

import (
	"fmt"
	"log"
	"time"
)

// Day is an immutable civil calendar day. It carries no zone: a Day is only
// meaningful together with the zone it was resolved in.
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

func dayOfTime(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Date: d}
}

// AddDays returns the day n civil days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	return dayOfTime(time.Date(d.Year, d.Month, d.Date+n, 0, 0, 0, 0, time.UTC))
}

// Number returns the count of days since the Unix epoch, giving Days a total
// order and cheap difference arithmetic.
func (d Day) Number() int {
	return int(time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// DaysUntil returns other - d in whole civil days.
func (d Day) DaysUntil(other Day) int {
	return other.Number() - d.Number()
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool { return d.Number() < other.Number() }

// Weekday returns the day of week (Sunday = 0).
func (d Day) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC).Weekday()
}

// ISOWeek returns the ISO 8601 year and week number (weeks start Monday).
func (d Day) ISOWeek() (int, int) {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC).ISOWeek()
}

// WeekNumber returns the count of ISO weeks since the epoch week, so weekly
// streaks can reuse the same gap arithmetic as daily ones.
func (d Day) WeekNumber() int {
	monday := d.AddDays(-mondayOffset(d.Weekday()))
	// Epoch day 0 is a Thursday; day 4 is the first post-epoch Monday.
	return (monday.Number() - 4) / 7
}

// ISOWeekStart returns the Monday opening d's ISO week.
func (d Day) ISOWeekStart() Day {
	return d.AddDays(-mondayOffset(d.Weekday()))
}

func mondayOffset(w time.Weekday) int {
	if w == time.Sunday {
		return 6
	}
	return int(w) - 1
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Date)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return dayOfTime(t), nil
}

// Resolver resolves instants to zoned days. The zero value is not usable;
// construct with NewResolver.
type Resolver struct {
	logger *log.Logger
}

// Option configures optional Resolver behaviour.
type Option func(*Resolver)

// WithLogger overrides the logger used to report zone fallbacks.
func WithLogger(logger *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver constructs a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger: log.New(log.Writer(), "[timezone] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Location resolves an IANA zone id. Unknown or empty ids fall back to UTC
// with a warning; callers never see an error so a bad stored zone degrades
// the experience instead of breaking it.
func (r *Resolver) Location(zone string) *time.Location {
	if zone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		r.logger.Printf("unknown zone %q, falling back to UTC: %v", zone, err)
		return time.UTC
	}
	return loc
}

// DayOf returns the civil day that instant falls on in the given zone.
func (r *Resolver) DayOf(instant time.Time, zone string) Day {
	return dayOfTime(instant.In(r.Location(zone)))
}

// Window returns the UTC instants bounding day in the given zone:
// start is the zone's local midnight opening the day, end is the local
// midnight opening the next day (end-exclusive). On DST transition days the
// bracket is 23 or 25 hours wide; it always covers exactly one civil day.
func (r *Resolver) Window(day Day, zone string) (start, end time.Time) {
	loc := r.Location(zone)
	start = time.Date(day.Year, day.Month, day.Date, 0, 0, 0, 0, loc).UTC()
	end = time.Date(day.Year, day.Month, day.Date+1, 0, 0, 0, 0, loc).UTC()
	return start, end
}

// SameDay reports whether two instants fall on the same civil day in zone.
func (r *Resolver) SameDay(a, b time.Time, zone string) bool {
	return r.DayOf(a, zone) == r.DayOf(b, zone)
}

package repository

import "time"

const (
	defaultRetention  = 7 * 24 * time.Hour
	defaultEvictEvery = 5 * time.Minute
)

// Option applies a configuration option to a store.
type Option func(*settings)

type settings struct {
	retention time.Duration
	now       func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{retention: defaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithRetention sets how long task records (and cancel flags) are kept.
func WithRetention(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

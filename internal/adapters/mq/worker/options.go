// Package worker executes queued analysis tasks.
package worker

import (
	"time"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/pkg/logger"
)

// Default execution settings.
const (
	defaultMaxRetries   = 3
	defaultBackoffBase  = 500 * time.Millisecond
	defaultBackoffMax   = 30 * time.Second
	defaultTaskTimeout  = 30 * time.Second
	defaultResultTTL    = 24 * time.Hour
	defaultDrainTimeout = 10 * time.Second
)

type settings struct {
	name         string
	group        string
	queues       []string
	maxRetries   int
	backoffBase  time.Duration
	backoffMax   time.Duration
	taskTimeout  time.Duration
	resultTTL    time.Duration
	drainTimeout time.Duration
	archiver     archive.Archiver
	logger       logger.Logger
	now          func() time.Time
}

func defaultSettings() settings {
	return settings{
		name:         "worker",
		group:        "default",
		maxRetries:   defaultMaxRetries,
		backoffBase:  defaultBackoffBase,
		backoffMax:   defaultBackoffMax,
		taskTimeout:  defaultTaskTimeout,
		resultTTL:    defaultResultTTL,
		drainTimeout: defaultDrainTimeout,
		archiver:     archive.Nop{},
		now:          time.Now,
	}
}

// Option applies a configuration option to a QueueWorker or a Pool.
type Option func(*settings)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithQueues sets the queues a worker serves, highest priority first.
func WithQueues(queues ...string) Option {
	return func(s *settings) {
		if len(queues) > 0 {
			s.queues = append([]string(nil), queues...)
		}
	}
}

// WithMaxRetries bounds retries after the first attempt. A task runs at most
// maxRetries+1 times.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the first retry delay and its cap. The delay doubles per attempt.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(s *settings) {
		if base > 0 {
			s.backoffBase = base
		}
		if maxDelay > 0 {
			s.backoffMax = maxDelay
		}
	}
}

// WithTaskTimeout bounds one attempt.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.taskTimeout = d
		}
	}
}

// WithResultTTL sets how long a successful result stays cached.
func WithResultTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.resultTTL = d
		}
	}
}

// WithDrainTimeout bounds how long Shutdown waits for in-flight tasks.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithArchiver copies every terminal task to long-term storage.
func WithArchiver(a archive.Archiver) Option {
	return func(s *settings) {
		if a != nil {
			s.archiver = a
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func withGroup(group string) Option {
	return func(s *settings) {
		if group != "" {
			s.group = group
		}
	}
}

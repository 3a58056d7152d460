package points

import (
	"time"

	"github.com/google/uuid"

	"github.com/warp/points-engine/logger"
)

// Defaults applied when the corresponding option is not set.
const (
	DefaultMaxBatchSize    = 5000
	DefaultTopParticipants = 10
)

// Recorder receives engine events for metrics. The metrics package provides
// the Prometheus implementation; a nil Recorder records nothing.
type Recorder interface {
	ConfigurationActivated(configType string, version int)
	RecalculationCompleted(configType string, activities, pointsDelta int, elapsed time.Duration)
	RecalculationFailed(configType, reason string)
	ActivityReviewed(status string, points int)
	AmbiguousFieldMatch(field string)
	UnconfiguredCategory(category string)
}

type nopRecorder struct{}

func (nopRecorder) ConfigurationActivated(string, int)                    {}
func (nopRecorder) RecalculationCompleted(string, int, int, time.Duration) {}
func (nopRecorder) RecalculationFailed(string, string)                    {}
func (nopRecorder) ActivityReviewed(string, int)                          {}
func (nopRecorder) AmbiguousFieldMatch(string)                            {}
func (nopRecorder) UnconfiguredCategory(string)                           {}

// Option configures an Engine.
type Option func(*options)

type options struct {
	log          logger.Logger
	metrics      Recorder
	now          func() time.Time
	newID        func() string
	maxBatchSize int
	topN         int
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithClock overrides time.Now. Timestamps are always stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation for new rows.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithMaxBatchSize limits how many activities one recalculation may touch.
// Zero disables the limit.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxBatchSize = n
		}
	}
}

// WithTopParticipants sets how many participants an impact report ranks.
func WithTopParticipants(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.topN = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		log:          logger.Discard(),
		metrics:      nopRecorder{},
		now:          time.Now,
		newID:        uuid.NewString,
		maxBatchSize: DefaultMaxBatchSize,
		topN:         DefaultTopParticipants,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) clock() time.Time { return o.now().UTC() }

// Engine bundles the components that share one store, logger and clock.
type Engine struct {
	Configs     *ConfigurationStore
	Resolver    *Resolver
	Calculator  *Calculator
	Coordinator *Coordinator
	Simulator   *ImpactSimulator
	Reviews     *ReviewService
	Consistency *ConsistencyChecker
}

// New wires every engine component over store.
func New(store TxStore, opts ...Option) *Engine {
	o := newOptions(opts)

	resolver := &Resolver{log: o.log, metrics: o.metrics}
	calc := &Calculator{resolver: resolver, log: o.log, metrics: o.metrics}
	configs := &ConfigurationStore{store: store, opts: o}

	return &Engine{
		Configs:    configs,
		Resolver:   resolver,
		Calculator: calc,
		Coordinator: &Coordinator{
			store:   store,
			configs: configs,
			calc:    calc,
			opts:    o,
		},
		Simulator: &ImpactSimulator{
			store: store,
			calc:  calc,
			topN:  o.topN,
		},
		Reviews: &ReviewService{
			store: store,
			calc:  calc,
			opts:  o,
		},
		Consistency: &ConsistencyChecker{
			store: store,
			opts:  o,
		},
	}
}

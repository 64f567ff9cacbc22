package bridge

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

// DefaultPollInterval is the time between the end of one polling cycle and
// the start of the next.
const DefaultPollInterval = 10 * time.Second

// DefaultRequestTimeout bounds each shadow fetch and set-point write.
const DefaultRequestTimeout = 10 * time.Second

// Option configures a Poller, DeltaHandler or Supervisor.
type Option func(*config)

type config struct {
	pollInterval   time.Duration
	requestTimeout time.Duration
	logger         *logging.Logger
	bus            *event.Bus
	breaker        *gobreaker.CircuitBreaker
}

func newConfig(opts []Option) *config {
	cfg := &config{
		pollInterval:   DefaultPollInterval,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = DefaultPollInterval
	}
	if cfg.requestTimeout <= 0 {
		cfg.requestTimeout = DefaultRequestTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.bus == nil {
		cfg.bus = event.NewBus(cfg.logger)
	}
	return cfg
}

// WithPollInterval sets the polling interval.
// A zero or negative value is replaced with the default (10s).
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithRequestTimeout bounds shadow fetches and set-point writes made by the
// delta handler. A zero or negative value is replaced with the default (10s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		c.requestTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBus sets the bus bridge events are published on. Without it events
// go to a private bus with no subscribers.
func WithBus(bus *event.Bus) Option {
	return func(c *config) {
		c.bus = bus
	}
}

// WithBreaker guards the poller's device reads with a circuit breaker.
// While the breaker is open, cycles are skipped without touching the device.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *config) {
		c.breaker = cb
	}
}

// NewBreaker returns a breaker that opens after maxFailures consecutive
// failed reads and allows a trial read once openTimeout has passed.
func NewBreaker(maxFailures uint32, openTimeout time.Duration, logger *logging.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "device-read",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

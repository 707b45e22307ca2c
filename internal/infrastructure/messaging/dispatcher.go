package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Subscriber is the subscription side of a bus. *InMemoryEventBus satisfies it.
type Subscriber interface {
	Subscribe(eventType shared.EventType, handler shared.EventHandler) error
}

// Dispatcher sits between handlers and the bus. Every handler it subscribes
// is retried with backoff; an event that still fails lands in the dead
// letter queue. retry.Permanent errors are not retried.
type Dispatcher struct {
	bus     Subscriber
	retrier *retry.Retrier
	dlq     *DeadLetterQueue
	log     *logger.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// MaxAttempts per event and handler, the first one included.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// DeadLetterQueueSize is the max size of the DLQ.
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:         3,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          2 * time.Second,
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a dispatcher on top of bus.
func NewDispatcher(bus Subscriber, config DispatcherConfig) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	log := config.Logger.Named("dispatcher")
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		bus: bus,
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.InitialBackoff),
			retry.WithMaxDelay(config.MaxBackoff),
			retry.WithRetryIf(func(error) bool { return true }),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Debug("retrying event handler",
					logger.Int("attempt", attempt),
					logger.Duration("backoff", delay),
					logger.Err(err),
				)
			}),
		),
		dlq:    NewDeadLetterQueue(config.DeadLetterQueueSize),
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers handler on the bus behind retries.
func (d *Dispatcher) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return d.bus.Subscribe(eventType, d.wrap(handler))
}

func (d *Dispatcher) wrap(handler shared.EventHandler) shared.EventHandler {
	return func(event shared.Event) error {
		attempts := 0
		err := d.retrier.Do(d.ctx, func(context.Context) error {
			attempts++
			return handler(event)
		})
		if err == nil {
			return nil
		}

		d.dlq.Add(DeadLetterEntry{
			Event:    event,
			Error:    err,
			Attempts: attempts,
			FailedAt: d.now(),
		})
		d.log.Error("event handler gave up",
			logger.String("event_type", string(event.EventType())),
			logger.Int("attempts", attempts),
			logger.Err(err),
		)
		return fmt.Errorf("%s failed after %d attempts: %w", event.EventType(), attempts, err)
	}
}

// Stop aborts pending backoff waits. Handlers in flight finish their
// current attempt.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// DeadLetterQueue returns the dead letter queue.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.dlq
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed event.
type DeadLetterEntry struct {
	Event    shared.Event
	Error    error
	Attempts int
	FailedAt time.Time
}

// DeadLetterQueue keeps the latest failed events for inspection.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry, dropping the oldest one at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// HealthCheck reports an error while the queue holds failed events.
func (q *DeadLetterQueue) HealthCheck(_ context.Context) error {
	if n := q.Size(); n > 0 {
		return fmt.Errorf("%d events in dead letter queue", n)
	}
	return nil
}

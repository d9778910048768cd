package htd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher defaults.
const (
	// defaultCommandTimeout is the per-attempt acknowledgment timeout.
	defaultCommandTimeout = time.Second

	// defaultMaxRetries is the number of retries after the first attempt.
	defaultMaxRetries = 2

	// defaultRetryBackoff is the pause between attempts.
	defaultRetryBackoff = 250 * time.Millisecond

	// defaultQueueSize bounds the command queue. The bus runs one frame at
	// a time; a deep backlog means something upstream is misbehaving.
	defaultQueueSize = 64

	// interPollDelay spaces reconciliation queries so a poll sweep does
	// not monopolise the queue.
	interPollDelay = 25 * time.Millisecond
)

// frameLink is the subset of Link the dispatcher needs. Narrowed for
// testability.
type frameLink interface {
	WriteFrame(ctx context.Context, frame []byte) error
	State() LinkState
}

// DispatcherConfig holds command dispatch configuration.
type DispatcherConfig struct {
	// CommandTimeout is the per-attempt ack timeout. Default: 1s.
	CommandTimeout time.Duration

	// MaxRetries is the retry count after the first attempt. Default: 2.
	MaxRetries int

	// RetryBackoff is the pause between attempts. Default: 250ms.
	RetryBackoff time.Duration

	// PollInterval is the reconciliation poll period. 0 disables polling.
	PollInterval time.Duration

	// QueueSize bounds the FIFO queue. Default: 64.
	QueueSize int
}

func (cfg *DispatcherConfig) applyDefaults() {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
}

// intentFn reports whether a zone snapshot already reflects a command's
// intended effect. A broadcast satisfying the intent counts as implicit
// success even if the explicit echo was lost on the noisy bus.
type intentFn func(Zone) bool

// queuedCommand is a command in flight through the dispatcher.
type queuedCommand struct {
	cmd    Command
	intent intentFn
	result chan error // buffered(1); resolution never blocks
}

// pendingWait is the single in-flight command awaiting resolution.
type pendingWait struct {
	key       CorrelationKey
	zone      int
	intent    intentFn
	satisfied chan struct{}
	once      sync.Once
}

func (p *pendingWait) resolve() {
	p.once.Do(func() { close(p.satisfied) })
}

// Dispatcher serialises outbound commands over the half-duplex link.
//
// It maintains one FIFO queue and enforces exactly one in-flight command
// at a time. Each command is retried with backoff up to the configured
// maximum; exhaustion resolves the caller with ErrCommandTimeout and the
// queue advances; a failing command never blocks the queue.
//
// An independent reconciliation poll requests full zone status at the
// configured interval to correct drift from missed broadcasts. Poll
// queries queue behind explicit caller commands under the same
// single-in-flight discipline.
type Dispatcher struct {
	cfg   DispatcherConfig
	link  frameLink
	codec *Codec
	store *StateStore

	queue chan *queuedCommand

	pending   *pendingWait
	pendingMu sync.Mutex

	polling atomic.Bool

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	commandsSent    atomic.Uint64
	commandsTimeout atomic.Uint64
}

// NewDispatcher creates a dispatcher. Call Start to begin processing.
func NewDispatcher(cfg DispatcherConfig, link frameLink, codec *Codec, store *StateStore) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:   cfg,
		link:  link,
		codec: codec,
		store: store,
		queue: make(chan *queuedCommand, cfg.QueueSize),
		done:  newCloseOnce(),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Start launches the dispatch loop and, if configured, the poll loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.runLoop()

	if d.cfg.PollInterval > 0 {
		d.wg.Add(1)
		go d.pollLoop()
	}
}

// Stop drains the queue, failing every pending command with ErrShutdown,
// and halts the poll loop. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.done.Close()
	d.wg.Wait()

	// Fail anything still queued after the loops exited.
	for {
		select {
		case qc := <-d.queue:
			qc.result <- ErrShutdown
		default:
			return
		}
	}
}

// Submit enqueues a command and suspends the caller until it resolves.
//
// The intent callback, if non-nil, lets a status broadcast that already
// reflects the command's effect resolve it as implicit success.
//
// Fails fast with ErrLinkDown while the link is disconnected: commands
// are never queued across an outage.
//
// Returns:
//   - error: nil on ack/implicit success; ErrLinkDown, ErrQueueFull,
//     ErrCommandTimeout, ErrShutdown or ctx.Err() otherwise
func (d *Dispatcher) Submit(ctx context.Context, cmd Command, intent intentFn) error {
	if d.link.State() != LinkConnected {
		return ErrLinkDown
	}

	cmd.EnqueuedAt = time.Now()
	qc := &queuedCommand{
		cmd:    cmd,
		intent: intent,
		result: make(chan error, 1),
	}

	select {
	case d.queue <- qc:
	case <-d.done.Done():
		return ErrShutdown
	default:
		return ErrQueueFull
	}

	select {
	case err := <-qc.result:
		return err
	case <-d.done.Done():
		return ErrShutdown
	case <-ctx.Done():
		// Commands are not cancellable mid-flight; the caller stops
		// waiting but the command itself runs to resolution.
		return ctx.Err()
	}
}

// HandleAck routes a decoded command echo from the read pipeline.
func (d *Dispatcher) HandleAck(ack Ack) {
	d.pendingMu.Lock()
	p := d.pending
	d.pendingMu.Unlock()

	if p != nil && p.key == ack.Key {
		p.resolve()
	}
}

// HandleBroadcast routes a merged zone snapshot from the read pipeline.
// A broadcast that already reflects the pending command's intended state
// is treated as implicit success.
func (d *Dispatcher) HandleBroadcast(zone Zone) {
	d.pendingMu.Lock()
	p := d.pending
	d.pendingMu.Unlock()

	if p == nil || p.zone != zone.ID {
		return
	}
	if p.intent == nil || p.intent(zone) {
		p.resolve()
	}
}

// runLoop processes the queue one command at a time.
func (d *Dispatcher) runLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done.Done():
			return
		case qc := <-d.queue:
			qc.result <- d.execute(qc)
		}
	}
}

// execute sends one command with the retry/timeout budget. At most one
// command is in flight on the link at any instant: execute is only ever
// called from runLoop.
func (d *Dispatcher) execute(qc *queuedCommand) error {
	frame := d.codec.EncodeCommand(qc.cmd)
	attempts := d.cfg.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if d.link.State() != LinkConnected {
			return ErrLinkDown
		}

		p := &pendingWait{
			key:       qc.cmd.Key(),
			zone:      qc.cmd.Zone,
			intent:    qc.intent,
			satisfied: make(chan struct{}),
		}
		d.pendingMu.Lock()
		d.pending = p
		d.pendingMu.Unlock()

		err := d.writeAndWait(p, frame)

		d.pendingMu.Lock()
		d.pending = nil
		d.pendingMu.Unlock()

		switch {
		case err == nil:
			d.commandsSent.Add(1)
			return nil
		case errors.Is(err, ErrShutdown):
			return err
		}

		d.logDebug("command attempt unacknowledged",
			"zone", qc.cmd.Zone,
			"opcode", fmt.Sprintf("%02x", qc.cmd.Opcode),
			"attempt", attempt,
			"error", err.Error())

		if attempt < attempts {
			select {
			case <-d.done.Done():
				return ErrShutdown
			case <-time.After(d.cfg.RetryBackoff):
			}
		}
	}

	d.commandsTimeout.Add(1)
	return fmt.Errorf("%w: zone %d opcode %02x after %d attempts",
		ErrCommandTimeout, qc.cmd.Zone, qc.cmd.Opcode, attempts)
}

// writeAndWait writes the frame and waits for ack, implicit success,
// timeout or shutdown.
func (d *Dispatcher) writeAndWait(p *pendingWait, frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CommandTimeout)
	defer cancel()

	if err := d.link.WriteFrame(ctx, frame); err != nil {
		return err
	}

	timer := time.NewTimer(d.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-p.satisfied:
		return nil
	case <-timer.C:
		return ErrCommandTimeout
	case <-d.done.Done():
		return ErrShutdown
	}
}

// pollLoop runs the periodic reconciliation poll.
func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done.Done():
			return
		case <-ticker.C:
			// Skip the tick if the previous sweep is still draining.
			if !d.polling.CompareAndSwap(false, true) {
				continue
			}
			d.pollSweep()
			d.polling.Store(false)
		}
	}
}

// pollSweep queries every zone's status once. Queries share the queue
// with caller commands and so cannot overtake them.
func (d *Dispatcher) pollSweep() {
	profile := d.codec.Profile()

	for zone := 1; zone <= d.store.ZoneCount(); zone++ {
		select {
		case <-d.done.Done():
			return
		default:
		}

		err := d.Submit(context.Background(), Command{
			Zone:   zone,
			Opcode: profile.QueryOpcode,
		}, func(Zone) bool { return true })

		switch {
		case err == nil:
		case errors.Is(err, ErrLinkDown), errors.Is(err, ErrShutdown):
			return // Pointless to keep sweeping.
		default:
			d.logDebug("reconciliation query failed", "zone", zone, "error", err.Error())
		}

		select {
		case <-d.done.Done():
			return
		case <-time.After(interPollDelay):
		}
	}
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() (sent, timedOut uint64) {
	return d.commandsSent.Load(), d.commandsTimeout.Load()
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

package htd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Default timeouts and intervals for the controller link.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds individual read calls so the read loop can
	// observe shutdown. A timeout is not an error.
	defaultReadTimeout = 2 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 2 * time.Second

	// defaultMaxReconnectInterval caps backoff growth. Attempts themselves
	// are unbounded; only the delay is capped.
	defaultMaxReconnectInterval = 2 * time.Minute

	// defaultBaudRate matches the HTD controllers' fixed serial rate.
	defaultBaudRate = 38400

	// readChunkSize is the per-read buffer for the byte stream.
	readChunkSize = 256

	// maxPendingBytes bounds the resync buffer; beyond this the stream is
	// garbage and everything up to the last header candidate is discarded.
	maxPendingBytes = 1024
)

// Logger is the interface for optional structured logging, compatible
// with infrastructure/logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LinkState is the connection state of the transport link.
type LinkState string

// Link connection states.
const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkReconnecting LinkState = "reconnecting"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// LinkConfig holds transport configuration.
type LinkConfig struct {
	// Connection is the controller connection URL.
	// Supported formats:
	//   - "serial:///dev/ttyUSB0" (RS-232, optional ?baud=38400)
	//   - "tcp://192.168.1.50:10006" (serial-over-IP server)
	Connection string

	// ConnectTimeout is the maximum time to wait for a connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds individual reads. Default: 2 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial reconnection delay. Default: 2s.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps backoff growth. Default: 2 minutes.
	MaxReconnectInterval time.Duration
}

func (cfg *LinkConfig) applyDefaults() {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
}

// LinkStats holds operational statistics for the link.
type LinkStats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramingErrors   uint64 // resync events on the byte stream
	BytesDiscarded  uint64 // bytes dropped while resynchronising
	ChecksumErrors  uint64
	ReconnectsTotal uint64
	State           LinkState
}

// Link owns the raw byte stream to the controller.
//
// The bus is half-duplex: WriteFrame is mutually exclusive and a frame is
// always written atomically. ReadFrame never hands a partial frame upward;
// garbage bytes are discarded up to the next recognised header.
//
// On I/O failure the link transitions to LinkReconnecting and retries with
// exponential backoff plus jitter, capped at MaxReconnectInterval.
// Attempts are unbounded: only Close stops reconnection.
//
// Thread Safety: all methods are safe for concurrent use. ReadFrame is
// intended to be called from a single reader goroutine.
type Link struct {
	cfg   LinkConfig
	codec *Codec

	conn   io.ReadWriteCloser
	connMu sync.RWMutex

	state   LinkState
	stateMu sync.RWMutex
	onState func(LinkState)

	writeMu sync.Mutex

	// pending accumulates stream bytes until a complete frame is present.
	pending []byte

	done *closeOnce

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framingErrors   atomic.Uint64
	bytesDiscarded  atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// NewLink creates a link for the given configuration and codec. Call Open
// to establish the connection.
func NewLink(cfg LinkConfig, codec *Codec) *Link {
	cfg.applyDefaults()
	return &Link{
		cfg:   cfg,
		codec: codec,
		state: LinkDisconnected,
		done:  newCloseOnce(),
	}
}

// SetLogger sets the logger for the link.
func (l *Link) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// SetOnStateChange registers a callback invoked on every link state
// transition. Must be called before Open.
func (l *Link) SetOnStateChange(fn func(LinkState)) {
	l.onState = fn
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

func (l *Link) setState(s LinkState) {
	l.stateMu.Lock()
	prev := l.state
	l.state = s
	l.stateMu.Unlock()

	if prev != s && l.onState != nil {
		l.onState(s)
	}
}

// Open establishes the connection to the controller.
//
// The connection is released on every failure path; a failed Open leaves
// no descriptor behind.
//
// Parameters:
//   - ctx: Context for cancellation of the initial dial
//
// Returns:
//   - error: ErrConnectionFailed (wrapped) if the dial fails
func (l *Link) Open(ctx context.Context) error {
	l.setState(LinkConnecting)

	conn, err := l.dial(ctx)
	if err != nil {
		l.setState(LinkDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.setState(LinkConnected)
	l.logInfo("link connected", "connection", l.cfg.Connection)
	return nil
}

// dial opens the underlying byte stream per the connection URL.
func (l *Link) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	kind, target, baud, err := parseConnectionURL(l.cfg.Connection)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "serial":
		return openSerial(target, baud, l.cfg.ReadTimeout)
	case "tcp":
		dialCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, "tcp", target)
		if err != nil {
			return nil, fmt.Errorf("dial tcp %s: %w", target, err)
		}
		return &deadlineConn{Conn: conn, readTimeout: l.cfg.ReadTimeout}, nil
	default:
		return nil, fmt.Errorf("unsupported connection kind %q", kind)
	}
}

// parseConnectionURL parses a controller connection URL.
//
// Returns the transport kind ("serial" or "tcp"), the dial target (device
// path or host:port) and the baud rate for serial links.
func parseConnectionURL(connURL string) (kind, target string, baud int, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid connection URL: %w", err)
	}

	switch u.Scheme {
	case "serial":
		baud = defaultBaudRate
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return "", "", 0, fmt.Errorf("invalid baud rate %q", b)
			}
		}
		if u.Path == "" {
			return "", "", 0, fmt.Errorf("serial URL missing device path")
		}
		return "serial", u.Path, baud, nil
	case "tcp":
		if u.Host == "" {
			return "", "", 0, fmt.Errorf("tcp URL missing host:port")
		}
		return "tcp", u.Host, 0, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported scheme %q (use serial or tcp)", u.Scheme)
	}
}

// openSerial opens the RS-232 device at 8N1 with the given baud rate.
func openSerial(path string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	// Bounded reads so the read loop can observe shutdown; a timed-out
	// read returns n=0 with no error.
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return port, nil
}

// deadlineConn applies a rolling read deadline to a net.Conn so reads
// behave like serial.Port reads with a timeout: n=0, nil error.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if err := d.Conn.SetReadDeadline(time.Now().Add(d.readTimeout)); err != nil {
		return 0, err
	}
	n, err := d.Conn.Read(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, nil
		}
	}
	return n, err
}

// ReadFrame blocks until a complete frame per the codec's delimiter rules
// is available and returns it.
//
// Garbage bytes are discarded up to the next recognised header (counted as
// framing errors, never surfaced). On connection loss the link reconnects
// internally with backoff and the read continues; ReadFrame only returns
// an error (ErrClosed) after Close.
func (l *Link) ReadFrame() ([]byte, error) {
	buf := make([]byte, readChunkSize)

	for {
		if frame := l.extractFrame(); frame != nil {
			l.framesRx.Add(1)
			return frame, nil
		}

		select {
		case <-l.done.Done():
			return nil, ErrClosed
		default:
		}

		l.connMu.RLock()
		conn := l.conn
		l.connMu.RUnlock()

		if conn == nil {
			if !l.reconnect() {
				return nil, ErrClosed
			}
			continue
		}

		n, err := conn.Read(buf)
		if n > 0 {
			l.pending = append(l.pending, buf[:n]...)
		}
		if err != nil {
			if l.isClosed() {
				return nil, ErrClosed
			}
			l.logError("read failed", err)
			l.dropConnection()
			if !l.reconnect() {
				return nil, ErrClosed
			}
		}
	}
}

// extractFrame scans the pending buffer for one complete frame, discarding
// bytes that cannot begin a frame. Returns nil if more bytes are needed.
func (l *Link) extractFrame() []byte {
	p := l.codec.Profile()

	for {
		// Resync: discard up to the next header candidate.
		start := 0
		for start < len(l.pending) && l.pending[start] != p.Header[0] {
			start++
		}
		if start > 0 {
			l.discard(start)
		}

		if len(l.pending) < 2 {
			break
		}
		if l.pending[1] != p.Header[1] {
			l.discard(1)
			continue
		}

		if len(l.pending) < minFrameLength {
			break
		}

		flen := p.FrameLengthFor(l.pending[frameOpcodeIndex])
		if flen == 0 {
			// Header bytes were stream noise; skip one byte and rescan.
			l.discard(1)
			continue
		}

		if len(l.pending) < flen {
			break
		}

		frame := make([]byte, flen)
		copy(frame, l.pending[:flen])
		l.pending = l.pending[flen:]
		return frame
	}

	// Hard bound on the resync buffer.
	if len(l.pending) > maxPendingBytes {
		l.discard(len(l.pending) - minFrameLength)
	}
	return nil
}

// discard drops n leading pending bytes and counts the resync event.
func (l *Link) discard(n int) {
	l.pending = l.pending[n:]
	l.bytesDiscarded.Add(uint64(n))
	l.framingErrors.Add(1)
}

// dropConnection closes the current stream and marks the link
// reconnecting. Pending stream bytes are invalid across a reconnect.
func (l *Link) dropConnection() {
	l.connMu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.connMu.Unlock()

	l.pending = nil
	l.setState(LinkReconnecting)
}

// reconnect re-establishes the connection with exponential backoff plus
// jitter, capped at MaxReconnectInterval. Attempt count is unbounded.
// Returns false only if Close was requested.
func (l *Link) reconnect() bool {
	backoff := l.cfg.ReconnectInterval
	attempt := 0

	for {
		if l.isClosed() {
			return false
		}

		attempt++
		conn, err := l.dial(context.Background())
		if err == nil {
			l.connMu.Lock()
			l.conn = conn
			l.connMu.Unlock()

			l.reconnectsTotal.Add(1)
			l.setState(LinkConnected)
			l.logInfo("reconnected", "attempt", attempt,
				"total_reconnects", l.reconnectsTotal.Load())
			return true
		}

		delay := jitter(backoff)
		l.logWarn("reconnect failed", "attempt", attempt,
			"retry_in", delay.String(), "error", err.Error())

		select {
		case <-l.done.Done():
			return false
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > l.cfg.MaxReconnectInterval {
			backoff = l.cfg.MaxReconnectInterval
		}
	}
}

// jitter spreads a backoff delay over [d, 1.5d) so multiple bridges
// sharing a serial server do not reconnect in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/2)))
}

// WriteFrame writes one frame atomically. Writers are mutually exclusive
// because the bus cannot interleave frames.
//
// Parameters:
//   - ctx: Context for cancellation before the write starts
//   - frame: Complete encoded frame
//
// Returns:
//   - error: ErrLinkDown if not connected, ErrClosed after Close, or a
//     wrapped I/O error
func (l *Link) WriteFrame(ctx context.Context, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.isClosed() {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if l.State() != LinkConnected {
		return ErrLinkDown
	}

	l.connMu.RLock()
	conn := l.conn
	l.connMu.RUnlock()

	if conn == nil {
		return ErrLinkDown
	}

	if nc, ok := conn.(*deadlineConn); ok {
		deadline := time.Now().Add(defaultWriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := nc.Conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := conn.Write(frame); err != nil {
		// A failed write means the stream is suspect; force the reader
		// to reconnect rather than risk a desynchronised half-duplex bus.
		l.logError("write failed", err)
		l.dropConnection()
		return fmt.Errorf("%w: write: %w", ErrLinkDown, err)
	}

	l.framesTx.Add(1)
	return nil
}

// isClosed returns true once Close has been requested.
func (l *Link) isClosed() bool {
	select {
	case <-l.done.Done():
		return true
	default:
		return false
	}
}

// Close releases the connection and stops any reconnection in progress.
// Safe to call multiple times.
func (l *Link) Close() error {
	l.done.Close()

	l.connMu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.connMu.Unlock()

	l.setState(LinkDisconnected)
	l.logInfo("link closed")
	return nil
}

// Stats returns current operational statistics.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		FramesTx:        l.framesTx.Load(),
		FramesRx:        l.framesRx.Load(),
		FramingErrors:   l.framingErrors.Load(),
		BytesDiscarded:  l.bytesDiscarded.Load(),
		ChecksumErrors:  l.codec.ChecksumErrors(),
		ReconnectsTotal: l.reconnectsTotal.Load(),
		State:           l.State(),
	}
}

func (l *Link) logInfo(msg string, keysAndValues ...any) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (l *Link) logWarn(msg string, keysAndValues ...any) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (l *Link) logError(msg string, err error) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

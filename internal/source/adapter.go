package source

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

// dialTimeout bounds one connection attempt to an adapter.
const dialTimeout = 10 * time.Second

// Adapter ingests the SHDR line protocol from one machine-tool adapter over
// TCP. It reconnects forever with the configured delay; connection state
// changes are reported through the pipeline so the connection coordinator
// can drive availability.
type Adapter struct {
	cfg      config.AdapterConfig
	identity string
	pipe     *pipeline.Pipeline
	logger   Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn
}

// NewAdapter creates an SHDR adapter source.
func NewAdapter(cfg config.AdapterConfig, pipe *pipeline.Pipeline, logger Logger) *Adapter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Adapter{
		cfg:      cfg,
		identity: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		pipe:     pipe,
		logger:   logger,
	}
}

// Identity implements Source.
func (a *Adapter) Identity() string { return a.identity }

// IsLoopback implements Source.
func (a *Adapter) IsLoopback() bool { return false }

// Start launches the connect/read loop.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
	return nil
}

// Stop terminates the loop and closes the connection.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// run is the reconnect loop.
func (a *Adapter) run(ctx context.Context) {
	for {
		a.status(pipeline.StatusConnecting)

		conn, err := a.dial(ctx)
		if err != nil {
			a.logger.Warn("connect failed", "source", a.identity, "error", err)
		} else {
			a.status(pipeline.StatusConnected)
			a.logger.Info("connected", "source", a.identity)

			err = a.read(ctx, conn)
			conn.Close()

			a.status(pipeline.StatusDisconnected)
			a.logger.Info("disconnected", "source", a.identity, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.ReconnectDelay()):
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", a.identity)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	return conn, nil
}

// read pumps lines from the adapter into the pipeline until the connection
// drops or a heartbeat goes unanswered.
func (a *Adapter) read(ctx context.Context, conn net.Conn) error {
	heartbeat := a.cfg.HeartbeatInterval()
	if heartbeat > 0 {
		stop := a.startHeartbeat(ctx, conn, heartbeat)
		defer stop()
		conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if heartbeat > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		}

		// PONG replies to our PINGs stay source-internal.
		if strings.HasPrefix(line, "* PONG") {
			continue
		}

		if err := a.pipe.Run(&pipeline.Data{
			Source: a.identity,
			Device: a.cfg.Device,
			Value:  line,
		}); err != nil {
			a.logger.Warn("dropping record", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrStreamClosed, err)
	}
	return pipeline.ErrStreamClosed
}

// startHeartbeat sends `* PING` every interval. The returned function stops
// the ticker.
func (a *Adapter) startHeartbeat(ctx context.Context, conn net.Conn, interval time.Duration) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := fmt.Fprint(conn, "* PING\n"); err != nil {
					a.logger.Debug("heartbeat write failed", "error", err)
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// status reports a connection state change through the pipeline.
func (a *Adapter) status(state string) {
	var devices []string
	if a.cfg.Device != "" {
		devices = []string{a.cfg.Device}
	}
	if err := a.pipe.Run(&pipeline.ConnectionStatus{
		Status:        state,
		Source:        a.identity,
		Devices:       devices,
		AutoAvailable: a.cfg.AutoAvailable,
	}); err != nil {
		a.logger.Warn("delivering connection status", "state", state, "error", err)
	}
}

// Serial bus adapter, grounded on the teacher's transport/serial.Transport
// lifecycle (Start/readLoop/Stop with a cancelable context and a done
// channel the Stop path waits on). MeshCore's RS232 Fletcher-16 framing is
// replaced with newline-delimited JSON framing, since a serial link here
// represents a single point-to-point neighbor connection rather than a
// multi-drop bus: every Publish is written to the wire regardless of
// channel, and every inbound line is delivered to whichever channel was
// last subscribed (there being only one neighbor on the other end).
package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is the default baud rate for a serial bus link.
const DefaultBaudRate = 115200

// SerialConfig holds the configuration for a serial-backed bus adapter.
type SerialConfig struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Serial implements Adapter over a single point-to-point serial link.
type Serial struct {
	cfg    SerialConfig
	port   serial.Port
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	channel string
	handler Handler
}

// NewSerial opens the serial port and starts the read loop. Cancelling
// ctx makes the read loop return after the next line it reads; it does not
// close the port. Close cancels, closes the port, and waits for the read
// loop to exit.
func NewSerial(ctx context.Context, cfg SerialConfig) (*Serial, error) {
	if cfg.Port == "" {
		return nil, errors.New("bus/serial: port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("bus/serial: opening port: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	s := &Serial{
		cfg:    cfg,
		port:   port,
		log:    cfg.Logger.WithGroup("bus.serial"),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.readLoop(readCtx)

	s.log.Info("connected to serial port", "port", cfg.Port, "baud", cfg.BaudRate)
	return s, nil
}

// Subscribe registers handler for inbound lines. A serial link has exactly
// one peer, so the most recent Subscribe call wins; channel is recorded
// only for diagnostics.
func (s *Serial) Subscribe(channel string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.channel = channel
	s.handler = handler
	return nil
}

// Publish writes payload to the wire followed by a newline. channel is
// ignored beyond logging — there is only one possible destination.
func (s *Serial) Publish(channel string, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	_, err := s.port.Write(append(payload, '\n'))
	if err != nil {
		return fmt.Errorf("bus/serial: writing: %w", err)
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.port.Close()
	<-s.done
	return err
}

func (s *Serial) readLoop(ctx context.Context) {
	defer close(s.done)

	scanner := bufio.NewScanner(s.port)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			cp := make([]byte, len(line))
			copy(cp, line)
			handler(cp)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Error("serial read error", "error", err)
	}
}

// Package session runs the DMSS logging handshake over a bulk transport and
// streams decoded log packets to a sink.
package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dmss-core/pkg/hdlc"
	"dmss-core/pkg/protocol"
	"dmss-core/pkg/usb"
)

// FSM: AwaitingAck -> Established. Established is terminal.

const waitNoticeEvery = 5 * time.Second

// Transport moves bytes over a pair of bulk endpoints. A zero timeout
// waits forever.
type Transport interface {
	BulkWrite(endpoint uint8, p []byte, timeout time.Duration) (int, error)
	BulkRead(endpoint uint8, p []byte, timeout time.Duration) (int, error)
}

// State is the handshake state of a Session.
type State int

const (
	StateAwaitingAck State = iota
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateEstablished:
		return "established"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Errors returned by Handshake and Receive.
var (
	ErrNoAck          = errors.New("session: device never acknowledged connect request")
	ErrEstablished    = errors.New("session: already established")
	ErrNotEstablished = errors.New("session: not established")
)

// Options configures a Session.
type Options struct {
	EndpointOut uint8
	EndpointIn  uint8

	AckTimeout    time.Duration
	RetryDelay    time.Duration
	ConfigTimeout time.Duration
	ReadBuffer    int
	// MaxAttempts caps connect requests; 0 retries forever.
	MaxAttempts int

	Logger zerolog.Logger
}

// DefaultOptions returns the timings and endpoints of a stock DMSS modem.
func DefaultOptions() Options {
	return Options{
		EndpointOut:   usb.DefaultEndpointOut,
		EndpointIn:    usb.DefaultEndpointIn,
		AckTimeout:    10 * time.Second,
		RetryDelay:    100 * time.Millisecond,
		ConfigTimeout: time.Second,
		ReadBuffer:    4096,
		Logger:        zerolog.Nop(),
	}
}

// Stats counts session traffic.
type Stats struct {
	ConnectAttempts int
	BytesReceived   uint64
	Frames          uint64
	Records         uint64
	Unknown         uint64
	EmptyFrames     uint64
}

// Session drives one device from connect request to log stream.
// It is not safe for concurrent use.
type Session struct {
	opts  Options
	t     Transport
	sink  io.Writer
	id    uuid.UUID
	log   zerolog.Logger
	state State
	stats Stats
	buf   []byte
	de    *hdlc.Deframer
	sleep func(time.Duration)

	// waiting throttles the info-level retry notice
	waiting *tokenBucket
}

// New returns a session in StateAwaitingAck. Zero fields in opts take
// their DefaultOptions value, except RetryDelay and MaxAttempts where zero
// is meaningful.
func New(t Transport, sink io.Writer, opts Options) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if opts.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative")
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative")
	}
	def := DefaultOptions()
	if opts.EndpointOut == 0 {
		opts.EndpointOut = def.EndpointOut
	}
	if opts.EndpointIn == 0 {
		opts.EndpointIn = def.EndpointIn
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = def.AckTimeout
	}
	if opts.ConfigTimeout <= 0 {
		opts.ConfigTimeout = def.ConfigTimeout
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = def.ReadBuffer
	}

	id := uuid.New()
	return &Session{
		opts:  opts,
		t:     t,
		sink:  sink,
		id:    id,
		log:   opts.Logger.With().Str("session", id.String()).Logger(),
		state: StateAwaitingAck,
		buf:   make([]byte, opts.ReadBuffer),
		de:    hdlc.NewDeframer(),
		sleep: time.Sleep,

		waiting: newTokenBucket(waitNoticeEvery, 1, nil),
	}, nil
}

func (s *Session) ID() uuid.UUID { return s.id }
func (s *Session) State() State  { return s.state }
func (s *Session) Stats() Stats  { return s.stats }

// Run performs the handshake and then streams until the transport or the
// sink fails. It only returns with an error.
func (s *Session) Run() error {
	if err := s.Handshake(); err != nil {
		return err
	}
	return s.Receive()
}

// Handshake sends connect requests until the device answers with exactly
// ConnectAck, then sends ConfigRequest once. Any other reply, including a
// read timeout, is retried after RetryDelay. Other transport errors abort.
func (s *Session) Handshake() error {
	if s.state == StateEstablished {
		return ErrEstablished
	}

	for {
		if s.opts.MaxAttempts > 0 && s.stats.ConnectAttempts >= s.opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrNoAck, s.stats.ConnectAttempts)
		}
		s.stats.ConnectAttempts++
		attempt := s.stats.ConnectAttempts

		if _, err := s.t.BulkWrite(s.opts.EndpointOut, protocol.ConnectRequest[:], s.opts.AckTimeout); err != nil {
			return fmt.Errorf("send connect request: %w", err)
		}

		n, err := s.t.BulkRead(s.opts.EndpointIn, s.buf, s.opts.AckTimeout)
		switch {
		case err == nil && n == len(protocol.ConnectAck) && string(s.buf[:n]) == string(protocol.ConnectAck[:]):
			s.state = StateEstablished
			s.log.Debug().Int("attempt", attempt).Msg("connect acknowledged")
			if _, err := s.t.BulkWrite(s.opts.EndpointOut, protocol.ConfigRequest[:], s.opts.ConfigTimeout); err != nil {
				return fmt.Errorf("send config request: %w", err)
			}
			return nil
		case err == nil:
			s.log.Debug().Int("attempt", attempt).Hex("reply", s.buf[:n]).Msg("unexpected connect reply")
		case isTimeout(err):
			s.log.Debug().Int("attempt", attempt).Msg("connect reply timed out")
		default:
			return fmt.Errorf("read connect reply: %w", err)
		}

		if s.waiting.Allow() {
			s.log.Info().Int("attempts", attempt).Msg("waiting for connect ack")
		}
		if s.opts.RetryDelay > 0 {
			s.sleep(s.opts.RetryDelay)
		}
	}
}

// Receive reads the log stream forever, writing one rendered line per
// non-empty frame to the sink. Frames may span reads.
func (s *Session) Receive() error {
	if s.state != StateEstablished {
		return ErrNotEstablished
	}

	for {
		n, err := s.t.BulkRead(s.opts.EndpointIn, s.buf, 0)
		if err != nil {
			return fmt.Errorf("read log stream: %w", err)
		}
		s.stats.BytesReceived += uint64(n)
		s.de.Write(s.buf[:n])

		for {
			frame, ok := s.de.Next()
			if !ok {
				break
			}
			if err := s.emit(frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) emit(frame []byte) error {
	if len(frame) == 0 {
		s.stats.EmptyFrames++
		return nil
	}
	s.stats.Frames++

	p, err := protocol.Write(s.sink, frame)
	switch p.(type) {
	case protocol.LogRecord:
		s.stats.Records++
	default:
		s.stats.Unknown++
		s.log.Trace().Int("len", len(frame)).Msg("unknown packet")
	}
	if err != nil {
		return fmt.Errorf("write sink: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, usb.ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

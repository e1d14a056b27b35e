package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/matst80/tcprelay/internal/reactor"
	"go.uber.org/multierr"
)

// Strategy selects how a session moves bytes.
type Strategy string

const (
	// StoreAndForward reads one client payload, forwards it, relays one
	// response chunk back.
	StoreAndForward Strategy = "store-and-forward"
	// BidirectionalStream copies both directions until either side closes.
	BidirectionalStream Strategy = "stream"
)

// Exchange decides what a store-and-forward session does after a response.
type Exchange string

const (
	ExchangeOneShot Exchange = "one-shot"
	ExchangeReuse   Exchange = "reuse"
)

// DispatchMode picks who drives a session.
type DispatchMode string

const (
	// DispatchShared drives sessions on the acceptor's own reactor.
	DispatchShared DispatchMode = "shared"
	// DispatchIsolated hands each session to a pool worker with a private
	// reactor.
	DispatchIsolated DispatchMode = "isolated"
)

// Config is shared by every session of a server.
type Config struct {
	Strategy Strategy
	Exchange Exchange
	Dispatch DispatchMode
	// Workers bounds concurrently driven sessions in isolated mode.
	Workers int
	// BufferSize is the transfer buffer capacity of each session.
	BufferSize     int
	IdleTimeout    time.Duration // 0 disables
	ConnectTimeout time.Duration
	// PollTimeout bounds one reactor wait; shutdown and idle checks run at
	// least this often.
	PollTimeout  time.Duration
	Backend      reactor.Backend
	TracePayload bool
}

func DefaultConfig() Config {
	return Config{
		Strategy:       BidirectionalStream,
		Exchange:       ExchangeOneShot,
		Dispatch:       DispatchShared,
		Workers:        64,
		BufferSize:     1024,
		IdleTimeout:    5 * time.Minute,
		ConnectTimeout: 5 * time.Second,
		PollTimeout:    500 * time.Millisecond,
		Backend:        reactor.BackendAuto,
	}
}

func (c Config) Validate() error {
	var errs error
	switch c.Strategy {
	case StoreAndForward, BidirectionalStream:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	switch c.Exchange {
	case ExchangeOneShot, ExchangeReuse:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown exchange policy %q", c.Exchange))
	}
	switch c.Dispatch {
	case DispatchShared:
	case DispatchIsolated:
		if c.Workers <= 0 {
			errs = multierr.Append(errs, errors.New("isolated dispatch requires workers > 0"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown dispatch mode %q", c.Dispatch))
	}
	if c.BufferSize < 2 {
		errs = multierr.Append(errs, fmt.Errorf("buffer size %d too small", c.BufferSize))
	}
	if c.IdleTimeout < 0 {
		errs = multierr.Append(errs, errors.New("idle timeout must not be negative"))
	}
	if c.ConnectTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("connect timeout must be positive"))
	}
	if c.PollTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("poll timeout must be positive"))
	}
	if _, err := reactor.ParseBackend(string(c.Backend)); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

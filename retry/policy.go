package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
)

// Config controls retry behaviour.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// Timeout bounds a single attempt. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		Timeout:      2 * time.Minute,
	}
}

// StreamFactory starts one attempt for req.
type StreamFactory func(ctx context.Context, req *model.Request) (<-chan core.StreamChunk, <-chan error)

// Event describes a retry that is about to happen.
type Event struct {
	Attempt int // 1-based number of the attempt that failed
	Signal  *Signal
	Delay   time.Duration
}

// Options configure a Policy.
type Options struct {
	Logger  logging.Logger
	OnRetry func(Event)
}

// Policy retries streaming attempts that end in a Signal.
type Policy struct {
	cfg  Config
	opts Options
}

// New creates a Policy.
func New(cfg Config, optFns ...func(o *Options)) *Policy {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Policy{cfg: cfg, opts: opts}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.cfg }

// ExecuteStream runs factory until an attempt finishes without a Signal.
//
// Chunks of every attempt are forwarded as they arrive. After a Signal the
// correction is added to a private copy of the conversation as a temporary
// system message, a "[retry n]" text chunk is emitted and the next attempt
// starts after the backoff delay. When retries are exhausted the stream just
// ends; callers detect this by the missing Finish chunk. Other errors are
// sent on the error channel and end the operation.
func (p *Policy) ExecuteStream(ctx context.Context, req *model.Request, factory StreamFactory) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !p.cfg.Enabled {
			if err := p.passThrough(ctx, req, factory, out); err != nil {
				errCh <- err
			}
			return
		}

		if err := p.run(ctx, req, factory, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (p *Policy) run(ctx context.Context, req *model.Request, factory StreamFactory, out chan<- core.StreamChunk) error {
	working := req.Clone()
	if working.Conversation == nil {
		working.Conversation = core.NewConversation()
	}
	bo := p.newBackOff()

	for attempt := 1; ; attempt++ {
		sig, err := p.attempt(ctx, attempt, working, factory, out)
		if err != nil {
			return err
		}
		if sig == nil {
			return nil
		}

		if attempt > p.cfg.MaxRetries {
			p.opts.Logger.Warn("llm.retry.exhausted", "attempts", attempt, "reason", sig.Correction)
			return nil
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = p.cfg.MaxDelay
		}

		p.opts.Logger.Info("llm.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "reason", sig.Correction)
		if p.opts.OnRetry != nil {
			p.opts.OnRetry(Event{Attempt: attempt, Signal: sig, Delay: delay})
		}

		if sig.Correction != "" {
			working.Conversation.AddCorrection(sig.Correction)
		}

		if err := send(ctx, out, core.TextChunk(fmt.Sprintf("[retry %d]", attempt))); err != nil {
			return err
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// attempt runs one stream. It returns a Signal when the attempt should be
// retried and an error when the operation must stop.
func (p *Policy) attempt(ctx context.Context, n int, req *model.Request, factory StreamFactory, out chan<- core.StreamChunk) (*Signal, error) {
	actx, cancel := p.attemptContext(ctx)
	defer cancel()

	chunks, errs := factory(actx, req.Clone())

	var fatal error
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := send(ctx, out, c); err != nil {
				go drain(chunks, errs)
				return nil, err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if ferr := flushReady(ctx, chunks, out); ferr != nil {
				go drain(chunks, nil)
				return nil, ferr
			}
			if sig, isSig := AsSignal(err); isSig {
				go drain(chunks, nil)
				return sig, nil
			}
			if isAttemptTimeout(ctx, err) {
				go drain(chunks, nil)
				return timeoutSignal(n, err), nil
			}
			if ctx.Err() != nil {
				go drain(chunks, nil)
				return nil, ctx.Err()
			}
			// Keep forwarding what the attempt already produced.
			fatal = err
			errs = nil
		case <-actx.Done():
			go drain(chunks, errs)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return timeoutSignal(n, actx.Err()), nil
		}
	}
	return nil, fatal
}

func (p *Policy) passThrough(ctx context.Context, req *model.Request, factory StreamFactory, out chan<- core.StreamChunk) error {
	chunks, errs := factory(ctx, req)

	var fatal error
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := send(ctx, out, c); err != nil {
				go drain(chunks, errs)
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && fatal == nil {
				fatal = err
			}
		}
	}
	return fatal
}

func (p *Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, p.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.cfg.Multiplier,
		MaxInterval:         p.cfg.MaxDelay,
	}
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = backoff.DefaultMaxInterval
	}
	bo.Reset()
	return bo
}

func send(ctx context.Context, out chan<- core.StreamChunk, c core.StreamChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- c:
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// flushReady forwards chunks that were produced before an error and are
// already buffered.
func flushReady(ctx context.Context, chunks <-chan core.StreamChunk, out chan<- core.StreamChunk) error {
	for chunks != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := send(ctx, out, c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// drain empties an abandoned attempt so its producer can exit.
func drain(chunks <-chan core.StreamChunk, errs <-chan error) {
	for chunks != nil || errs != nil {
		select {
		case _, ok := <-chunks:
			if !ok {
				chunks = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

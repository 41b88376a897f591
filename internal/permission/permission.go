// Package permission answers whether the microphone may be used.
package permission

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
)

// ErrDenied describes a refused microphone request.
var ErrDenied = errors.New("microphone permission denied")

// Decision is the outcome of a permission check or request.
type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// Oracle reports and requests microphone permission.
type Oracle interface {
	// Check returns the current decision without prompting.
	Check(ctx context.Context) Decision
	// Request asks for permission. The channel yields exactly one decision.
	Request(ctx context.Context) <-chan Decision
}

// Static always answers with the same decision.
type Static Decision

// Check returns the fixed decision.
func (s Static) Check(context.Context) Decision { return Decision(s) }

// Request resolves immediately.
func (s Static) Request(context.Context) <-chan Decision {
	ch := make(chan Decision, 1)
	ch <- Decision(s)
	metrics.RecordPermission(Decision(s) == Granted)
	return ch
}

// ConsentKey is the settings key under which a grant is stored.
const ConsentKey = "microphone_permission"

// ConsentStore persists the user's answer.
type ConsentStore interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Prompt parks requests until a user answers through Resolve. Grants are
// remembered in the ConsentStore; denials are not, so the next request asks
// again.
type Prompt struct {
	store  ConsentStore
	logger zerolog.Logger

	mu      sync.Mutex
	waiters []chan Decision
}

// NewPrompt returns a prompting oracle backed by store.
func NewPrompt(store ConsentStore) *Prompt {
	return &Prompt{store: store, logger: xlog.WithComponent("permission")}
}

func (p *Prompt) Check(ctx context.Context) Decision {
	v, ok, err := p.store.Setting(ctx, ConsentKey)
	if err != nil {
		p.logger.Warn().Err(err).Msg("read consent failed, treating as not granted")
		return Denied
	}
	if ok && v == Granted.String() {
		return Granted
	}
	return Denied
}

func (p *Prompt) Request(ctx context.Context) <-chan Decision {
	ch := make(chan Decision, 1)
	if p.Check(ctx) == Granted {
		ch <- Granted
		return ch
	}

	p.mu.Lock()
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()
	p.logger.Info().Msg("microphone permission requested")
	return ch
}

// Pending reports whether a request is waiting for an answer.
func (p *Prompt) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters) > 0
}

// Resolve answers every outstanding request. It reports whether any
// request was waiting.
func (p *Prompt) Resolve(ctx context.Context, granted bool) bool {
	d := Denied
	if granted {
		d = Granted
		if err := p.store.SetSetting(ctx, ConsentKey, Granted.String()); err != nil {
			p.logger.Warn().Err(err).Msg("persist consent failed")
		}
	}

	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- d
	}
	if len(waiters) > 0 {
		metrics.RecordPermission(granted)
		p.logger.Info().Str("decision", d.String()).Int(xlog.FieldCount, len(waiters)).Msg("microphone permission resolved")
	}
	return len(waiters) > 0
}

// Revoke forgets a stored grant.
func (p *Prompt) Revoke(ctx context.Context) error {
	return p.store.SetSetting(ctx, ConsentKey, Denied.String())
}

// Package refresh keeps OAuth profiles fresh in long-running processes.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/authprofiles/internal/credential"
	"github.com/majorcontext/authprofiles/internal/log"
	"github.com/majorcontext/authprofiles/internal/oauth"
	"github.com/majorcontext/authprofiles/internal/storage"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultLookahead = 10 * time.Minute

	minBackoff = 30 * time.Second
	maxBackoff = 5 * time.Minute

	// attemptTimeout bounds one profile's refresh, retries included.
	attemptTimeout = 30 * time.Second
)

// Refresher renews one profile. *profiles.Service and *oauth.Manager both
// satisfy it.
type Refresher interface {
	Refresh(ctx context.Context, profileID string) (credential.Credential, error)
}

// Report is the outcome of one scan.
type Report struct {
	Refreshed []string
	Failed    map[string]error
	// Deferred lists profiles skipped because an earlier failure is still
	// backing off.
	Deferred []string
}

// Watcher periodically refreshes OAuth profiles that expire within the
// lookahead window. Providers are refreshed concurrently; profiles of one
// provider run one after another.
type Watcher struct {
	file      *storage.File
	refresher Refresher
	interval  time.Duration
	lookahead time.Duration
	now       func() time.Time

	mu      sync.Mutex
	backoff map[string]retryState
}

type retryState struct {
	next  time.Time
	delay time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the scan interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookahead sets how close to expiry a token must be to get refreshed.
func WithLookahead(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.lookahead = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// NewWatcher returns a watcher over the store at file.
func NewWatcher(file *storage.File, r Refresher, opts ...Option) *Watcher {
	w := &Watcher{
		file:      file,
		refresher: r,
		interval:  DefaultInterval,
		lookahead: DefaultLookahead,
		now:       time.Now,
		backoff:   make(map[string]retryState),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans immediately and then on every interval until ctx is done.
// Scan failures are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.scan(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	report, err := w.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("refresh scan failed", "error", err)
		}
		return
	}
	if len(report.Refreshed) > 0 || len(report.Failed) > 0 {
		log.Info("refresh scan complete", "refreshed", len(report.Refreshed), "failed", len(report.Failed), "deferred", len(report.Deferred))
	}
}

// RunOnce refreshes every due profile once.
func (w *Watcher) RunOnce(ctx context.Context) (*Report, error) {
	st, err := w.file.Read(ctx)
	if err != nil {
		return nil, err
	}

	now := w.now()
	report := &Report{Failed: make(map[string]error)}
	due := make(map[credential.Provider][]string)
	for _, provider := range st.Providers() {
		for _, p := range st.ProfilesFor(provider) {
			if !w.isDue(p.Credential, now) {
				continue
			}
			if w.deferred(p.ID, now) {
				report.Deferred = append(report.Deferred, p.ID)
				continue
			}
			due[provider] = append(due[provider], p.ID)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, ids := range due {
		g.Go(func() error {
			for _, id := range ids {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := w.refreshOne(gctx, id)
				mu.Lock()
				if err != nil {
					report.Failed[id] = err
				} else {
					report.Refreshed = append(report.Refreshed, id)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (w *Watcher) isDue(cred credential.Credential, now time.Time) bool {
	if !cred.CanRefresh() {
		return false
	}
	exp, ok := cred.ExpiresAt()
	if !ok {
		return true
	}
	return exp.Sub(now) <= w.lookahead
}

func (w *Watcher) refreshOne(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	_, err := w.refresher.Refresh(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.backoff, id)
		return nil
	}

	state := w.backoff[id]
	switch {
	case isRevoked(err):
		state.delay = maxBackoff
	case state.delay == 0:
		state.delay = minBackoff
	default:
		state.delay = min(state.delay*2, maxBackoff)
	}
	state.next = w.now().Add(state.delay)
	w.backoff[id] = state

	log.WithProfile(id).Debug("background refresh failed", "retry_in", state.delay, "error", err)
	return err
}

func (w *Watcher) deferred(id string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.backoff[id]
	return ok && now.Before(state.next)
}

func isRevoked(err error) bool {
	var rfe *oauth.RefreshFailedError
	return errors.As(err, &rfe) && rfe.Revoked
}

// Package forward relays normalized events to the downstream automation
// endpoint. Dispatch is fire-and-forget with respect to the caller: every
// call runs as its own task with a bounded timeout and reports its outcome on
// a buffered channel that the HTTP handler never waits on.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"
)

// SecretHeader carries the per-target shared secret on outbound calls.
const SecretHeader = "X-Secret"

var (
	// ErrNoTarget means neither the workspace nor the global config defines a target.
	ErrNoTarget = errors.New("forward: no target configured")
	// ErrSaturated means the in-flight bound was reached and the event was dropped.
	ErrSaturated = errors.New("forward: too many in-flight calls")
	// ErrClosed means Dispatch was called after Close.
	ErrClosed = errors.New("forward: closed")
)

// Target is a resolved forwarding destination.
type Target struct {
	URL    string
	Secret string
}

// TargetResolver resolves the forwarding target for a workspace. An empty
// workspaceID asks for the global default.
type TargetResolver interface {
	Resolve(ctx context.Context, workspaceID string) (Target, error)
}

// Event is one forwarding job.
type Event struct {
	WorkspaceID string
	RequestID   string
	// Payload is the original request body, forwarded as-is with enrichment.
	Payload []byte
	// Processed holds the identifiers produced by the pipeline; may be nil.
	Processed map[string]any
}

// Observer is notified of every task outcome ("ok", "error", "skipped", "dropped").
type Observer func(result string)

// Options configures a Forwarder.
type Options struct {
	Timeout     time.Duration
	MaxInFlight int
	Client      *http.Client
	Observe     Observer
}

// Forwarder dispatches events asynchronously.
type Forwarder struct {
	targets TargetResolver
	client  *http.Client
	timeout time.Duration
	sem     *semaphore.Weighted
	observe Observer

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Forwarder. A nil Client gets an otelhttp-instrumented default.
func New(targets TargetResolver, opts Options) *Forwarder {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 64
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if opts.Observe == nil {
		opts.Observe = func(string) {}
	}
	return &Forwarder{
		targets: targets,
		client:  opts.Client,
		timeout: opts.Timeout,
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		observe: opts.Observe,
	}
}

// Dispatch starts a forwarding task and returns immediately. The returned
// channel receives exactly one value (nil on success) and is then closed.
// Cancellation of ctx does not cancel the task; only the forward timeout does.
func (f *Forwarder) Dispatch(ctx context.Context, ev Event) <-chan error {
	done := make(chan error, 1)
	lg := loggerFrom(ctx)

	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		done <- ErrClosed
		close(done)
		f.observe("dropped")
		return done
	}
	if !f.sem.TryAcquire(1) {
		f.mu.RUnlock()
		done <- ErrSaturated
		close(done)
		f.observe("dropped")
		lg.Warn().Str("workspace_id", ev.WorkspaceID).Msg("forward dropped: saturated")
		return done
	}
	f.wg.Add(1)
	f.mu.RUnlock()

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)
		defer cancel()
		defer close(done)

		err := f.send(taskCtx, ev)
		switch {
		case err == nil:
			f.observe("ok")
		case errors.Is(err, ErrNoTarget):
			f.observe("skipped")
			lg.Debug().Str("workspace_id", ev.WorkspaceID).Msg("forward skipped: no target")
		default:
			f.observe("error")
			lg.Warn().Err(err).Str("workspace_id", ev.WorkspaceID).Msg("forward failed")
		}
		done <- err
	}()
	return done
}

// Close stops accepting new events and waits for in-flight tasks, or until
// ctx is done.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) send(ctx context.Context, ev Event) error {
	target, err := f.targets.Resolve(ctx, ev.WorkspaceID)
	if err != nil {
		return err
	}
	if target.URL == "" {
		return ErrNoTarget
	}
	body, err := BuildBody(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ev.RequestID != "" {
		req.Header.Set("X-Request-ID", ev.RequestID)
	}
	if target.Secret != "" {
		req.Header.Set(SecretHeader, target.Secret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward: target responded %d", resp.StatusCode)
	}
	return nil
}

// BuildBody returns the original payload enriched with processed_data,
// workspace_id and request_id. A payload that is not a JSON object is nested
// under "payload".
func BuildBody(ev Event) ([]byte, error) {
	out := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(ev.Payload)) > 0 {
		if err := json.Unmarshal(ev.Payload, &out); err != nil {
			out = map[string]json.RawMessage{}
			raw := json.RawMessage(ev.Payload)
			if !json.Valid(raw) {
				b, _ := json.Marshal(string(ev.Payload))
				raw = b
			}
			out["payload"] = raw
		}
	}
	set := func(k string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[k] = b
		return nil
	}
	if ev.Processed != nil {
		if err := set("processed_data", ev.Processed); err != nil {
			return nil, err
		}
	}
	if ev.WorkspaceID != "" {
		if err := set("workspace_id", ev.WorkspaceID); err != nil {
			return nil, err
		}
	}
	if ev.RequestID != "" {
		if err := set("request_id", ev.RequestID); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

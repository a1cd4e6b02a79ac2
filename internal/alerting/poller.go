package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/herald/internal/alerting")

// Tick results.
const (
	TickOK      = "ok"
	TickSkipped = "skipped"
	TickError   = "error"
)

// Delivery outcomes.
const (
	OutcomeDelivered       = "delivered"
	OutcomeFailedPermanent = "failed_permanent"
	OutcomeFailedTransient = "failed_transient"
	OutcomeDisabled        = "disabled"
	OutcomeLost            = "lost"
	OutcomeError           = "error"
)

const (
	defaultInterval     = 5 * time.Second
	defaultWorkers      = 8
	defaultSendTimeout  = 10 * time.Second
	defaultStoreTimeout = 5 * time.Second
	defaultStuckAfter   = 5 * time.Minute
	notifyTimeout       = 5 * time.Second
)

// Renderer builds a channel payload. It must not fail on missing context.
type Renderer interface {
	Render(al *Alert, ev *event.Event, now time.Time) *Payload
}

// TickResult summarises one poll tick.
type TickResult struct {
	Skipped    bool
	Err        error
	Due        int
	Delivered  int
	Failed     int
	Cancelled  int
	LostClaims int
}

// Poller is the periodic delivery driver. Its running flag only keeps one
// process from overlapping its own ticks; correctness across processes rests on
// Store.Claim and the (event, alert type) uniqueness.
type Poller struct {
	store    Store
	channels Channels
	renderer Renderer
	logger   log.Logger

	notifier     FailureNotifier
	hooks        Hooks
	now          func() time.Time
	interval     time.Duration
	workers      int
	sendTimeout  time.Duration
	storeTimeout time.Duration
	stuckAfter   time.Duration

	running atomic.Bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the tick cadence.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithWorkers bounds per-tick delivery concurrency.
func WithWorkers(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithSendTimeout bounds each channel send.
func WithSendTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.sendTimeout = d
		}
	}
}

// WithStoreTimeout bounds each storage call.
func WithStoreTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

// WithStuckAfter sets how long a claim may stay unconfirmed before it is reported.
func WithStuckAfter(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.stuckAfter = d
		}
	}
}

// WithHooks installs instrumentation callbacks.
func WithHooks(h Hooks) PollerOption {
	return func(p *Poller) { p.hooks = h }
}

// WithFailureNotifier reports failed deliveries to operators.
func WithFailureNotifier(n FailureNotifier) PollerOption {
	return func(p *Poller) { p.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller creates a new poller.
func NewPoller(store Store, channels Channels, renderer Renderer, logger log.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		store:        store,
		channels:     channels,
		renderer:     renderer,
		logger:       logger,
		now:          time.Now,
		interval:     defaultInterval,
		workers:      defaultWorkers,
		sendTimeout:  defaultSendTimeout,
		storeTimeout: defaultStoreTimeout,
		stuckAfter:   defaultStuckAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks immediately and then on every interval until ctx is done. Ticks are
// started independently, so a slow tick makes the next one skip rather than
// queue. Run waits for in-flight ticks before returning.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info(ctx, "poller started", "interval", p.interval.String(), "workers", p.workers)

	wg.Go(func() { p.Tick(ctx) })
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(context.WithoutCancel(ctx), "poller stopping")
			return
		case <-ticker.C:
			wg.Go(func() { p.Tick(ctx) })
		}
	}
}

// Tick runs one poll pass: fetch due alerts, cancel those whose channel is
// disabled, collapse the rest and cancel stale ones, then claim and send with
// bounded concurrency. Failure notifications go out after all sends finish.
func (p *Poller) Tick(ctx context.Context) TickResult {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn(ctx, "poll tick skipped, previous tick still in flight")
		p.hooks.tick(TickSkipped, 0, 0)
		return TickResult{Skipped: true}
	}
	defer p.running.Store(false)

	ctx, span := tracer.Start(ctx, "poll.tick")
	defer span.End()

	start := time.Now()
	now := p.now().UTC()

	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	due, err := p.store.DueAlerts(sctx, now)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, err, "fetch due alerts failed, tick aborted")
		p.hooks.tick(TickError, 0, 0)
		return TickResult{Err: err}
	}

	var (
		mu  sync.Mutex
		res = TickResult{Due: len(due)}
	)

	// Alerts on disabled channels are cancelled before collapse so they can
	// never supersede a deliverable tier of the same event.
	deliverable, disabled := p.splitDisabled(due)
	var xg errgroup.Group
	xg.SetLimit(p.workers)
	for _, al := range disabled {
		xg.Go(func() error {
			if p.cancelDisabled(ctx, al) {
				mu.Lock()
				res.Cancelled++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = xg.Wait()

	dec := Collapse(deliverable, now)
	span.SetAttributes(
		attribute.Int("herald.tick.due", len(due)),
		attribute.Int("herald.tick.deliver", len(dec.Deliver)),
		attribute.Int("herald.tick.collapse", len(dec.Cancel)),
		attribute.Int("herald.tick.disabled", len(disabled)),
	)

	collapsed := 0

	var cg errgroup.Group
	cg.SetLimit(p.workers)
	for _, c := range dec.Cancel {
		cg.Go(func() error {
			if p.cancelStale(ctx, c) {
				mu.Lock()
				res.Cancelled++
				collapsed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = cg.Wait()
	p.hooks.collapsed(collapsed)

	type failure struct {
		al  *Alert
		err error
	}
	var failures []failure

	var dg errgroup.Group
	dg.SetLimit(p.workers)
	for _, al := range dec.Deliver {
		dg.Go(func() error {
			outcome, sendErr := p.deliver(ctx, al, now)
			mu.Lock()
			switch outcome {
			case OutcomeDelivered:
				res.Delivered++
			case OutcomeFailedPermanent, OutcomeFailedTransient:
				res.Failed++
				failures = append(failures, failure{al: al, err: sendErr})
			case OutcomeLost:
				res.LostClaims++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = dg.Wait()

	// Operator notifications run once the delivery workers are free.
	for _, f := range failures {
		p.notifyFailure(ctx, f.al, f.err)
	}

	p.reportStuck(ctx, now)

	dur := time.Since(start).Seconds()
	p.hooks.tick(TickOK, dur, len(due))
	if res.Due > 0 {
		p.logger.Info(ctx, "poll tick complete",
			"due", res.Due,
			"delivered", res.Delivered,
			"failed", res.Failed,
			"cancelled", res.Cancelled,
			"lost_claims", res.LostClaims,
			"duration", dur,
		)
	}
	return res
}

func (p *Poller) cancelStale(ctx context.Context, c Cancellation) bool {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	ok, err := p.store.Cancel(sctx, c.Alert.ID, "superseded by "+c.SupersededBy.AlertType)
	if err != nil {
		p.logger.Error(ctx, err, "cancel stale alert failed", "alert_id", c.Alert.ID)
		return false
	}
	if !ok {
		// a concurrent poller already moved it on
		return false
	}
	p.logger.Info(ctx, "stale alert collapsed",
		"alert_id", c.Alert.ID,
		"event_id", c.Alert.EventID,
		"alert_type", c.Alert.AlertType,
		"superseded_by", c.SupersededBy.AlertType,
	)
	return true
}

// splitDisabled separates due alerts whose channel has a provider from those
// whose channel is disabled.
func (p *Poller) splitDisabled(due []*Alert) (deliverable, disabled []*Alert) {
	for _, al := range due {
		if _, ok := p.channels.Lookup(al.Channel); ok {
			deliverable = append(deliverable, al)
		} else {
			disabled = append(disabled, al)
		}
	}
	return deliverable, disabled
}

func (p *Poller) cancelDisabled(ctx context.Context, al *Alert) bool {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	ok, err := p.store.Cancel(sctx, al.ID, "channel disabled")
	if err != nil {
		p.logger.Error(ctx, err, "cancel alert for disabled channel failed", "alert_id", al.ID)
		return false
	}
	if !ok {
		return false
	}
	p.logger.Warn(ctx, "alert cancelled, channel disabled",
		"alert_id", al.ID,
		"event_id", al.EventID,
		"alert_type", al.AlertType,
		"channel", al.Channel,
	)
	p.hooks.delivery(al.Channel, OutcomeDisabled, 0)
	return true
}

func (p *Poller) deliver(ctx context.Context, al *Alert, now time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "alert.deliver", trace.WithAttributes(
		attribute.String("herald.alert.id", al.ID),
		attribute.String("herald.alert.type", al.AlertType),
		attribute.String("herald.channel", al.Channel),
		attribute.String("herald.event.id", al.EventID),
	))
	defer span.End()

	L := p.logger.With("alert_id", al.ID, "event_id", al.EventID, "alert_type", al.AlertType, "channel", al.Channel)

	// splitDisabled already dropped alerts whose channel has no provider
	ch, _ := p.channels.Lookup(al.Channel)

	// Load context before claiming so a storage error leaves the alert pending.
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	ev, found, err := p.store.GetEvent(sctx, al.EventID)
	cancel()
	if err != nil {
		span.RecordError(err)
		L.Error(ctx, err, "load event failed, will retry next tick")
		return OutcomeError, nil
	}
	if !found {
		ev = &event.Event{ID: al.EventID, UserID: al.UserID, Category: al.Category}
	}

	sctx, cancel = context.WithTimeout(ctx, p.storeTimeout)
	won, err := p.store.Claim(sctx, al.ID, now)
	cancel()
	if err != nil {
		span.RecordError(err)
		L.Error(ctx, err, "claim failed, will retry next tick")
		return OutcomeError, nil
	}
	p.hooks.claim(won)
	if !won {
		L.Info(ctx, "prevented duplicate delivery, alert already claimed")
		span.SetAttributes(attribute.Bool("herald.claim.won", false))
		return OutcomeLost, nil
	}
	span.SetAttributes(attribute.Bool("herald.claim.won", true))

	payload := p.renderer.Render(al, ev, now)

	sendCtx, sendCancel := context.WithTimeout(ctx, p.sendTimeout)
	sendStart := time.Now()
	sr, sendErr := ch.Send(sendCtx, ev.Target(al.Channel), payload)
	sendCancel()
	sendDur := time.Since(sendStart).Seconds()

	out := Outcome{Status: StatusDelivered, At: p.now().UTC(), ProviderRef: sr.ProviderRef}
	outcome := OutcomeDelivered
	if sendErr != nil {
		out = Outcome{Status: StatusFailed, At: p.now().UTC(), Detail: sendErr.Error()}
		outcome = OutcomeFailedTransient
		if IsPermanent(sendErr) {
			outcome = OutcomeFailedPermanent
		}
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
	}

	// The send happened; commit its outcome even if the tick is being cancelled.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	confirmed, err := p.store.Confirm(cctx, al.ID, out)
	ccancel()
	switch {
	case err != nil:
		L.Error(ctx, err, "confirm delivery failed, alert left in sending", "outcome", outcome)
	case !confirmed:
		L.Warn(ctx, "alert was not in sending at confirm", "outcome", outcome)
	}

	p.hooks.delivery(al.Channel, outcome, sendDur)

	if sendErr != nil {
		L.Error(ctx, sendErr, "alert delivery failed", "outcome", outcome, "send_duration", sendDur)
		return outcome, sendErr
	}

	L.Info(ctx, "alert delivered", "provider_ref", sr.ProviderRef, "send_duration", sendDur)
	return outcome, nil
}

func (p *Poller) notifyFailure(ctx context.Context, al *Alert, sendErr error) {
	if p.notifier == nil {
		return
	}
	failed := *al
	failed.Status = StatusFailed
	failed.Detail = sendErr.Error()

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := p.notifier.NotifyFailure(nctx, &failed, sendErr.Error()); err != nil {
		p.logger.Error(ctx, err, "failure notification failed", "alert_id", al.ID)
	}
}

func (p *Poller) reportStuck(ctx context.Context, now time.Time) {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	n, err := p.store.CountStuck(sctx, now.Add(-p.stuckAfter))
	cancel()
	if err != nil {
		p.logger.Error(ctx, err, "count stuck alerts failed")
		return
	}
	p.hooks.stuck(n)
	if n > 0 {
		p.logger.Warn(ctx, "alerts stuck in sending, manual reconciliation needed",
			"count", n,
			"stuck_after", p.stuckAfter.String(),
		)
	}
}

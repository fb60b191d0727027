package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/intentstore"
	"github.com/agentworkforce/courierlink/internal/readiness"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultDebounce  = 100 * time.Millisecond
	storeOpTimeout   = 5 * time.Second
	reasonNoTarget   = "no_target"
	reasonInvalidID  = "invalid_identifier"
	reasonClosed     = "dispatcher_closed"
	reasonLandedHome = "landed_on_fallback"
)

var ErrManualTriggerDisabled = errors.New("manual navigation trigger is only available in dev mode")

type EntryPoint string

const (
	EntryColdStart       EntryPoint = "cold_start"
	EntryBackgroundWake  EntryPoint = "background_wake"
	EntryForegroundClick EntryPoint = "foreground_click"
	EntryManualTrigger   EntryPoint = "manual_trigger"
	EntryDrain           EntryPoint = "drain"
)

type Outcome string

const (
	OutcomeDropped  Outcome = "dropped"
	OutcomeDeferred Outcome = "deferred"
	OutcomeAdmitted Outcome = "admitted"
)

type Result struct {
	Outcome  Outcome        `json:"outcome"`
	TargetID string         `json:"targetId,omitempty"`
	Purpose  intent.Purpose `json:"purpose,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// PendingStore is the persistence the dispatcher defers intents into.
type PendingStore interface {
	Save(ctx context.Context, purpose intent.Purpose, targetID string) error
	Load(ctx context.Context, purpose intent.Purpose) (*intentstore.Record, error)
	Clear(ctx context.Context, purpose intent.Purpose) error
}

type Options struct {
	Gate      *readiness.Gate
	Store     PendingStore
	Router    Router
	Extractor *intent.Extractor
	Scheduler Scheduler
	Logger    logrus.FieldLogger
	Meter     metric.Meter
	Now       func() time.Time

	Debounce              time.Duration
	TargetScreen          string
	LandingScreen         string
	DevMode               bool
	LandOnUnroutableClick bool
}

type scheduledIntent struct {
	generation uint64
	intent     intent.NavigationIntent
	entry      EntryPoint
	drained    bool
	timer      Timer
}

// Dispatcher turns navigation signals into at most one router call per
// debounce window, deferring them to the pending store while the readiness
// gate is closed and draining them when it opens.
type Dispatcher struct {
	gate          *readiness.Gate
	store         PendingStore
	router        Router
	extractor     *intent.Extractor
	scheduler     Scheduler
	logger        logrus.FieldLogger
	metrics       *dispatchMetrics
	now           func() time.Time
	debounce      time.Duration
	targetScreen  string
	landingScreen string
	devMode       bool
	landOnClick   bool

	mu         sync.Mutex
	generation uint64
	pending    *scheduledIntent
	closed     bool
	unwatch    func()

	routeMu sync.Mutex
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Gate == nil || opts.Store == nil || opts.Router == nil {
		return nil, errors.New("navigation: gate, store and router are required")
	}
	d := &Dispatcher{
		gate:          opts.Gate,
		store:         opts.Store,
		router:        opts.Router,
		extractor:     opts.Extractor,
		scheduler:     opts.Scheduler,
		logger:        opts.Logger,
		now:           opts.Now,
		debounce:      opts.Debounce,
		targetScreen:  strings.TrimSpace(opts.TargetScreen),
		landingScreen: strings.TrimSpace(opts.LandingScreen),
		devMode:       opts.DevMode,
		landOnClick:   opts.LandOnUnroutableClick,
	}
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	if d.extractor == nil {
		d.extractor = intent.NewExtractor(d.logger)
	}
	if d.scheduler == nil {
		d.scheduler = RealScheduler()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.debounce <= 0 {
		d.debounce = DefaultDebounce
	}
	if d.targetScreen == "" {
		d.targetScreen = DefaultTargetScreen
	}
	if d.landingScreen == "" {
		d.landingScreen = DefaultLandingScreen
	}
	d.metrics = newDispatchMetrics(opts.Meter)
	d.unwatch = d.gate.Watch(d.onTransition)
	return d, nil
}

func (d *Dispatcher) ColdStart(ctx context.Context, payload intent.Payload) Result {
	return d.receive(ctx, EntryColdStart, payload)
}

func (d *Dispatcher) BackgroundWake(ctx context.Context, payload intent.Payload) Result {
	return d.receive(ctx, EntryBackgroundWake, payload)
}

func (d *Dispatcher) ForegroundClick(ctx context.Context, payload intent.Payload) Result {
	return d.receive(ctx, EntryForegroundClick, payload)
}

// ManualTrigger injects a navigation without a push payload. An empty
// targetID synthesises a random identifier.
func (d *Dispatcher) ManualTrigger(ctx context.Context, targetID string) (Result, error) {
	if !d.devMode {
		return Result{Outcome: OutcomeDropped}, ErrManualTriggerDisabled
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		targetID = uuid.NewString()
	}
	return d.receive(ctx, EntryManualTrigger, intent.Payload{"targetId": targetID}), nil
}

// Drain re-injects a persisted intent after the gate opens. It is invoked
// automatically for gate transitions and is exported for hosts that manage
// their own gate observers.
func (d *Dispatcher) Drain(ctx context.Context, transition readiness.Transition) Result {
	if !transition.BecameReady() {
		return Result{Outcome: OutcomeDropped, Reason: "gate_not_opened"}
	}
	primary, secondary := intent.PurposeGeneric, intent.PurposePostAuthorization
	if transition.AuthorizationFlipped() {
		primary, secondary = secondary, primary
	}
	purpose := primary
	record, err := d.store.Load(ctx, primary)
	if err != nil {
		d.logger.WithError(err).WithField("purpose", string(primary)).Warn("load pending intent failed")
	}
	if record == nil {
		purpose = secondary
		record, err = d.store.Load(ctx, secondary)
		if err != nil {
			d.logger.WithError(err).WithField("purpose", string(secondary)).Warn("load pending intent failed")
		}
	}
	if record == nil {
		return Result{Outcome: OutcomeDropped, Reason: "nothing_pending"}
	}
	log := d.logger.WithFields(logrus.Fields{"target_id": record.TargetID, "purpose": string(purpose), "source": string(EntryDrain)})
	if !intent.IsValidIdentifier(record.TargetID) {
		log.Warn("discarding pending intent with invalid identifier")
		d.clearPurpose(ctx, purpose)
		d.metrics.intent(ctx, EntryDrain, OutcomeDropped)
		return Result{Outcome: OutcomeDropped, TargetID: record.TargetID, Purpose: purpose, Reason: reasonInvalidID}
	}
	log.Info("draining pending intent")
	ni := intent.NavigationIntent{TargetID: record.TargetID, CapturedAt: record.CapturedTime(), Purpose: purpose}
	return d.route(ctx, EntryDrain, ni, true)
}

// Close stops observing the gate and cancels any scheduled navigation.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.pending != nil && d.pending.timer != nil {
		d.pending.timer.Stop()
	}
	d.pending = nil
	if d.unwatch != nil {
		d.unwatch()
	}
}

func (d *Dispatcher) onTransition(transition readiness.Transition) {
	if !transition.BecameReady() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	d.Drain(ctx, transition)
}

func (d *Dispatcher) receive(ctx context.Context, entry EntryPoint, payload intent.Payload) Result {
	log := d.logger.WithField("source", string(entry))
	targetID, ok := d.extractor.Extract(payload)
	if !ok {
		log.Debug("push payload carries no navigation target")
		return d.drop(ctx, entry, "", reasonNoTarget)
	}
	if !intent.IsValidIdentifier(targetID) {
		log.WithField("target_id", targetID).Warn("dropping navigation with invalid identifier")
		return d.drop(ctx, entry, targetID, reasonInvalidID)
	}
	ni := intent.NavigationIntent{TargetID: targetID, CapturedAt: d.now(), Purpose: intent.PurposeGeneric}
	return d.route(ctx, entry, ni, false)
}

func (d *Dispatcher) drop(ctx context.Context, entry EntryPoint, targetID, reason string) Result {
	d.metrics.intent(ctx, entry, OutcomeDropped)
	result := Result{Outcome: OutcomeDropped, TargetID: targetID, Reason: reason}
	if entry == EntryForegroundClick && d.landOnClick && d.gate.IsReady() {
		if err := d.navigateLanding(); err != nil {
			d.logger.WithError(err).Error("landing navigation failed")
		} else {
			result.Reason = reasonLandedHome
		}
	}
	return result
}

func (d *Dispatcher) route(ctx context.Context, entry EntryPoint, ni intent.NavigationIntent, drained bool) Result {
	state := d.gate.State()
	if !state.Ready() {
		return d.deferIntent(ctx, entry, ni, state)
	}
	return d.admit(ctx, entry, ni, drained)
}

func (d *Dispatcher) deferIntent(ctx context.Context, entry EntryPoint, ni intent.NavigationIntent, state readiness.State) Result {
	purpose := intent.PurposeGeneric
	if !state.SessionAuthorized {
		purpose = intent.PurposePostAuthorization
	}
	log := d.logger.WithFields(logrus.Fields{"target_id": ni.TargetID, "purpose": string(purpose), "source": string(entry)})
	if err := d.store.Save(ctx, purpose, ni.TargetID); err != nil {
		log.WithError(err).Error("pending intent lost: persist failed")
	} else {
		log.Info("navigation deferred until ready")
	}
	d.metrics.intent(ctx, entry, OutcomeDeferred)
	return Result{Outcome: OutcomeDeferred, TargetID: ni.TargetID, Purpose: purpose}
}

func (d *Dispatcher) admit(ctx context.Context, entry EntryPoint, ni intent.NavigationIntent, drained bool) Result {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Result{Outcome: OutcomeDropped, TargetID: ni.TargetID, Reason: reasonClosed}
	}
	d.generation++
	slot := &scheduledIntent{generation: d.generation, intent: ni, entry: entry, drained: drained}
	var cancelled *scheduledIntent
	if previous := d.pending; previous != nil {
		if previous.timer != nil {
			previous.timer.Stop()
		}
		if previous.drained && !(drained && previous.intent.Purpose == ni.Purpose) {
			cancelled = previous
		}
		d.logger.WithFields(logrus.Fields{
			"target_id":     previous.intent.TargetID,
			"superseded_by": ni.TargetID,
		}).Debug("scheduled navigation superseded")
	}
	d.pending = slot
	generation := slot.generation
	slot.timer = d.scheduler.AfterFunc(d.debounce, func() { d.fire(generation) })
	d.mu.Unlock()

	// A superseded drained intent is cancelled, so its record must not be
	// drained again on the next transition.
	if cancelled != nil {
		d.clearPurpose(ctx, cancelled.intent.Purpose)
	}

	d.metrics.intent(ctx, entry, OutcomeAdmitted)
	return Result{Outcome: OutcomeAdmitted, TargetID: ni.TargetID, Purpose: ni.Purpose}
}

// fire runs the scheduled navigation if it is still the latest admission.
func (d *Dispatcher) fire(generation uint64) {
	d.mu.Lock()
	slot := d.pending
	if slot == nil || slot.generation != generation || d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if state := d.gate.State(); !state.Ready() {
		d.deferIntent(ctx, slot.entry, slot.intent, state)
		return
	}
	d.execute(ctx, slot)
}

func (d *Dispatcher) execute(ctx context.Context, slot *scheduledIntent) {
	route := Route{ScreenPath: d.targetScreen, Params: Params{TargetID: slot.intent.TargetID}}
	log := d.logger.WithFields(logrus.Fields{
		"target_id": slot.intent.TargetID,
		"purpose":   string(slot.intent.Purpose),
		"source":    string(slot.entry),
		"route":     route.ScreenPath,
	})

	err := d.navigate(route)
	d.clearExecuted(ctx, slot)
	if err != nil {
		d.metrics.execution(ctx, "failed")
		log.WithError(err).Error("navigation failed")
		if d.gate.IsReady() {
			if landErr := d.navigateLanding(); landErr != nil {
				log.WithError(landErr).Error("landing navigation failed")
			}
		}
		return
	}
	d.metrics.execution(ctx, "ok")
	log.Info("navigation executed")
}

// navigate replaces the top screen when it already shows the target screen so
// repeated notifications do not stack duplicates.
func (d *Dispatcher) navigate(route Route) (err error) {
	d.routeMu.Lock()
	defer d.routeMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("router panic: %v", r)
		}
	}()
	if reporter, ok := d.router.(ScreenReporter); ok && reporter.CurrentScreen() == route.ScreenPath {
		return d.router.Replace(route)
	}
	return d.router.Push(route)
}

func (d *Dispatcher) navigateLanding() (err error) {
	d.routeMu.Lock()
	defer d.routeMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("router panic: %v", r)
		}
	}()
	route := Route{ScreenPath: d.landingScreen}
	if d.router.CanGoBack() {
		return d.router.Replace(route)
	}
	return d.router.Push(route)
}

// clearExecuted empties the drained slot and any other slot holding the same
// target so an executed navigation is never replayed.
func (d *Dispatcher) clearExecuted(ctx context.Context, slot *scheduledIntent) {
	for _, purpose := range []intent.Purpose{intent.PurposeGeneric, intent.PurposePostAuthorization} {
		if slot.drained && purpose == slot.intent.Purpose {
			d.clearPurpose(ctx, purpose)
			continue
		}
		record, err := d.store.Load(ctx, purpose)
		if err != nil {
			d.logger.WithError(err).WithField("purpose", string(purpose)).Warn("load pending intent failed")
			continue
		}
		if record != nil && record.TargetID == slot.intent.TargetID {
			d.clearPurpose(ctx, purpose)
		}
	}
}

func (d *Dispatcher) clearPurpose(ctx context.Context, purpose intent.Purpose) {
	if err := d.store.Clear(ctx, purpose); err != nil {
		d.logger.WithError(err).WithField("purpose", string(purpose)).Warn("clear pending intent failed")
	}
}

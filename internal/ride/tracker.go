package ride

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/achievement"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/notify"
)

// LocationSource starts a position subscription.
type LocationSource interface {
	Start(onSample func(location.Sample), onError func(error)) (*location.Subscription, error)
}

// LedgerClient runs the submit/verify protocol.
type LedgerClient interface {
	Submit(ctx context.Context, s ledger.Submission) (*ledger.Pending, error)
	Verify(ctx context.Context, rideID string) (*ledger.Pending, error)
	Archive(rideID string) error
}

// StreakRecorder counts verified rides per calendar day and reports whether
// the streak changed.
type StreakRecorder interface {
	RecordRide(ctx context.Context, today time.Time) (int, bool, error)
}

// AchievementRecorder updates rider stats after a verified ride.
type AchievementRecorder interface {
	RecordRide(ctx context.Context, r achievement.Ride) (achievement.Result, error)
}

// Publisher emits rider notifications.
type Publisher interface {
	Publish(e notify.Event) notify.Event
}

// TickerFunc returns a tick channel and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Source       LocationSource
	Ledger       LedgerClient
	Streak       StreakRecorder
	Achievements AchievementRecorder
	Notifier     Publisher
	Logger       zerolog.Logger

	// TickInterval is how often the duration is refreshed. Default: 1s.
	TickInterval time.Duration
	NewTicker    TickerFunc
	Clock        func() time.Time
	NewRideID    func(now time.Time) string

	// PostVerifyTimeout bounds the streak and stats writes after a ride is
	// verified. Default: 5s.
	PostVerifyTimeout time.Duration
}

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evResume
	evSubmit
	evVerify
	evSample
	evLocationError
	evLedgerResult
	evStreak
)

type event struct {
	kind eventKind

	wallet string
	ctx    context.Context
	reply  chan reply

	gen    uint64
	sample location.Sample
	err    error

	rideID  string
	op      ledger.Operation
	receipt ledger.Receipt

	seq    uint64
	streak int
}

type reply struct {
	snapshot Snapshot
	pending  *ledger.Pending
	err      error
}

// Tracker owns the active ride session. All mutations run on one goroutine;
// location callbacks, ticks, commands and ledger results are queued to it.
type Tracker struct {
	cfg    TrackerConfig
	logger zerolog.Logger

	events chan event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// loop-owned state
	session   *session
	state     State
	sub       *location.Subscription
	gen       uint64
	tickC     <-chan time.Time
	stopTick  func()
	warning   string
	lastErr   string
	failedOp  ledger.Operation
	submitTx  string
	verifyTx  string
	streak    int
	streakSeq uint64
	postSeq   uint64
	waitGroup sync.WaitGroup
}

// NewTracker creates a Tracker and starts its loop.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Source == nil {
		return nil, errors.New("ride: location source is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ride: ledger client is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = defaultTicker
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewRideID == nil {
		cfg.NewRideID = NewRideID
	}
	if cfg.PostVerifyTimeout <= 0 {
		cfg.PostVerifyTimeout = 5 * time.Second
	}

	t := &Tracker{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "tracker").Logger(),
		events: make(chan event, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateIdle,
		snap:   Snapshot{State: StateIdle},
	}

	go t.loop()

	return t, nil
}

// Start begins a new ride for wallet. The rider's own stopped, failed or
// verified ride is replaced. Another wallet may only replace a verified
// ride; otherwise Start fails with ErrNotRideOwner.
func (t *Tracker) Start(ctx context.Context, wallet string) (Snapshot, error) {
	r, err := t.call(ctx, event{kind: evStart, wallet: wallet})
	return r.snapshot, err
}

// Stop ends tracking and freezes the metrics. Stop, Resume, Submit and
// Verify fail with ErrNotRideOwner unless wallet started the ride.
func (t *Tracker) Stop(ctx context.Context, wallet string) (Snapshot, error) {
	r, err := t.call(ctx, event{kind: evStop, wallet: wallet})
	return r.snapshot, err
}

// Resume continues a stopped ride that was never submitted, keeping its id
// and metrics.
func (t *Tracker) Resume(ctx context.Context, wallet string) (Snapshot, error) {
	r, err := t.call(ctx, event{kind: evResume, wallet: wallet})
	return r.snapshot, err
}

// Submit hands the stopped ride to the ledger. Rides shorter than 1 km are
// rejected with ErrInsufficientDistance.
func (t *Tracker) Submit(ctx context.Context, wallet string) (*ledger.Pending, error) {
	r, err := t.call(ctx, event{kind: evSubmit, wallet: wallet})
	return r.pending, err
}

// Verify asks the ledger to verify the submitted ride.
func (t *Tracker) Verify(ctx context.Context, wallet string) (*ledger.Pending, error) {
	r, err := t.call(ctx, event{kind: evVerify, wallet: wallet})
	return r.pending, err
}

// Snapshot returns the latest published state.
func (t *Tracker) Snapshot() Snapshot {
	t.snapMu.RLock()
	defer t.snapMu.RUnlock()
	return t.snap
}

// Close releases the location subscription and stops the loop. Ledger
// operations already dispatched keep running.
func (t *Tracker) Close() error {
	t.once.Do(func() { close(t.quit) })
	<-t.done
	t.waitGroup.Wait()
	return nil
}

func (t *Tracker) call(ctx context.Context, ev event) (reply, error) {
	ev.ctx = ctx
	ev.reply = make(chan reply, 1)

	select {
	case t.events <- ev:
	case <-t.done:
		return reply{}, ErrTrackerClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-ev.reply:
		return r, r.err
	case <-t.done:
		return reply{}, ErrTrackerClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// enqueue delivers an internal event unless the tracker has shut down.
func (t *Tracker) enqueue(ev event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Tracker) loop() {
	defer close(t.done)

	for {
		select {
		case <-t.quit:
			t.shutdown()
			return

		case <-t.tickC:
			if t.state == StateTracking && t.session != nil {
				t.session.tick(t.cfg.Clock())
				t.publish()
			}

		case ev := <-t.events:
			r, isCommand := t.handle(ev)
			t.publish()
			if isCommand {
				ev.reply <- r
			}
		}
	}
}

// handle applies ev. Commands return their reply, which the loop sends
// after publishing the new snapshot.
func (t *Tracker) handle(ev event) (reply, bool) {
	var r reply
	switch ev.kind {
	case evStop, evResume, evSubmit, evVerify:
		if r.err = t.authorize(ev.wallet); r.err != nil {
			return r, true
		}
	}

	switch ev.kind {
	case evStart:
		r.snapshot, r.err = t.start(ev.wallet)
	case evStop:
		r.snapshot, r.err = t.stop()
	case evResume:
		r.snapshot, r.err = t.resume()
	case evSubmit:
		r.pending, r.err = t.submit(ev.ctx)
	case evVerify:
		r.pending, r.err = t.verify(ev.ctx)
	case evSample:
		t.onSample(ev)
		return r, false
	case evLocationError:
		t.onLocationError(ev)
		return r, false
	case evLedgerResult:
		t.onLedgerResult(ev)
		return r, false
	case evStreak:
		if ev.seq > t.streakSeq {
			t.streak, t.streakSeq = ev.streak, ev.seq
		}
		return r, false
	}
	return r, true
}

// authorize checks that wallet started the current ride.
func (t *Tracker) authorize(wallet string) error {
	switch {
	case wallet == "":
		return ErrWalletRequired
	case t.session == nil:
		return ErrNoRide
	case t.session.wallet != wallet:
		return ErrNotRideOwner
	}
	return nil
}

func (t *Tracker) start(wallet string) (Snapshot, error) {
	if wallet == "" {
		return t.buildSnapshot(), ErrWalletRequired
	}
	if t.session != nil && t.session.wallet != wallet && t.state != StateVerified {
		return Snapshot{}, fmt.Errorf("%w: its ride is %s", ErrNotRideOwner, t.state)
	}
	switch t.state {
	case StateTracking, StateSubmitting, StateVerifying:
		return t.buildSnapshot(), fmt.Errorf("%w: cannot start while %s", ErrInvalidTransition, t.state)
	}

	now := t.cfg.Clock()
	seed := t.cfg.NewRideID(now)
	ledgerID, err := LedgerID(seed)
	if err != nil {
		return t.buildSnapshot(), err
	}

	gen := t.gen + 1
	sub, err := t.subscribe(gen)
	if err != nil {
		return t.buildSnapshot(), err
	}

	t.abandon()

	t.gen = gen
	t.sub = sub
	t.session = newSession(seed, ledgerID, wallet, now)
	t.state = StateTracking
	t.warning, t.lastErr, t.failedOp = "", "", ""
	t.submitTx, t.verifyTx = "", ""
	t.startTicker()

	t.logger.Info().
		Str("ride_id", seed).
		Str("ledger_id", ledgerID).
		Msg("ride started")

	return t.buildSnapshot(), nil
}

// abandon closes the ledger record of a failed ride that is being replaced.
func (t *Tracker) abandon() {
	if t.session == nil || t.state != StateFailed {
		return
	}
	if err := t.cfg.Ledger.Archive(t.session.ledgerID); err != nil && !errors.Is(err, ledger.ErrRecordNotFound) {
		t.logger.Warn().Err(err).Str("ride_id", t.session.id).Msg("failed to archive abandoned ride")
	}
}

func (t *Tracker) stop() (Snapshot, error) {
	if t.session == nil {
		return t.buildSnapshot(), ErrNoRide
	}
	if t.state != StateTracking {
		return t.buildSnapshot(), fmt.Errorf("%w: cannot stop while %s", ErrInvalidTransition, t.state)
	}

	t.unsubscribe()
	t.stopTicker()
	t.session.stop(t.cfg.Clock())
	t.state = StateStopped

	m := t.session.metrics
	t.logger.Info().
		Str("ride_id", t.session.id).
		Float64("distance_m", m.DistanceMeters).
		Int64("duration_s", m.DurationSeconds).
		Msg("ride stopped")

	return t.buildSnapshot(), nil
}

func (t *Tracker) resume() (Snapshot, error) {
	if t.session == nil {
		return t.buildSnapshot(), ErrNoRide
	}
	if t.state != StateStopped {
		return t.buildSnapshot(), fmt.Errorf("%w: cannot resume while %s", ErrInvalidTransition, t.state)
	}

	gen := t.gen + 1
	sub, err := t.subscribe(gen)
	if err != nil {
		return t.buildSnapshot(), err
	}

	t.gen = gen
	t.sub = sub
	t.session.resume(t.cfg.Clock())
	t.state = StateTracking
	t.warning = ""
	t.startTicker()

	t.logger.Info().Str("ride_id", t.session.id).Msg("ride resumed")

	return t.buildSnapshot(), nil
}

func (t *Tracker) submit(ctx context.Context) (*ledger.Pending, error) {
	if t.session == nil {
		return nil, ErrNoRide
	}
	retry := t.state == StateFailed && t.failedOp == ledger.OpSubmit
	if t.state != StateStopped && !retry {
		return nil, fmt.Errorf("%w: cannot submit while %s", ErrInvalidTransition, t.state)
	}

	m := t.session.snapshotMetrics()
	if m.DistanceMeters < MinSubmitDistanceMeters {
		return nil, fmt.Errorf("%w: rode %.0f m", ErrInsufficientDistance, m.DistanceMeters)
	}

	pending, err := t.cfg.Ledger.Submit(ctx, ledger.Submission{
		RideID:            t.session.ledgerID,
		Wallet:            t.session.wallet,
		DistanceMeters:    int64(math.Floor(m.DistanceMeters)),
		DurationSeconds:   m.DurationSeconds,
		CarbonOffsetGrams: m.CarbonOffsetGrams,
	})
	if err != nil {
		return nil, err
	}

	t.state = StateSubmitting
	t.lastErr, t.failedOp = "", ""
	t.await(pending)

	return pending, nil
}

func (t *Tracker) verify(ctx context.Context) (*ledger.Pending, error) {
	if t.session == nil {
		return nil, ErrNoRide
	}
	retry := t.state == StateFailed && t.failedOp == ledger.OpVerify
	if t.state != StateSubmitted && !retry {
		return nil, fmt.Errorf("%w: ride is %s", ErrSequencingViolation, t.state)
	}

	pending, err := t.cfg.Ledger.Verify(ctx, t.session.ledgerID)
	if err != nil {
		return nil, err
	}

	t.state = StateVerifying
	t.lastErr, t.failedOp = "", ""
	t.await(pending)

	return pending, nil
}

// await feeds the pending result back into the loop.
func (t *Tracker) await(p *ledger.Pending) {
	t.waitGroup.Add(1)
	go func() {
		defer t.waitGroup.Done()
		select {
		case <-p.Done():
		case <-t.done:
			return
		}
		receipt, err := p.Result()
		t.enqueue(event{kind: evLedgerResult, rideID: p.RideID, op: p.Op, receipt: receipt, err: err})
	}()
}

func (t *Tracker) onSample(ev event) {
	if ev.gen != t.gen || t.state != StateTracking {
		return
	}
	t.session.addSample(ev.sample)
	t.warning = ""
}

func (t *Tracker) onLocationError(ev event) {
	if ev.gen != t.gen || t.state != StateTracking {
		return
	}
	t.warning = ev.err.Error()
	if errors.Is(ev.err, location.ErrStreamEnded) {
		// The source already released the subscription.
		t.sub = nil
	}
}

func (t *Tracker) onLedgerResult(ev event) {
	if t.session == nil || t.session.ledgerID != ev.rideID {
		t.logger.Debug().Str("ride_id", ev.rideID).Msg("ignoring ledger result for a replaced ride")
		return
	}

	expected := StateSubmitting
	if ev.op == ledger.OpVerify {
		expected = StateVerifying
	}
	if t.state != expected {
		return
	}

	if ev.err != nil {
		t.state = StateFailed
		t.failedOp = ev.op
		t.lastErr = ev.err.Error()
		var opErr *ledger.OperationError
		if errors.As(ev.err, &opErr) {
			t.lastErr = opErr.Reason
		}
		return
	}

	if ev.op == ledger.OpSubmit {
		t.state = StateSubmitted
		t.submitTx = ev.receipt.TxHash
		return
	}

	t.state = StateVerified
	t.verifyTx = ev.receipt.TxHash

	t.logger.Info().
		Str("ride_id", t.session.id).
		Str("tx_hash", ev.receipt.TxHash).
		Msg("ride verified")

	t.postSeq++
	t.afterVerified(t.postSeq, verifiedRide{
		id:       t.session.id,
		ledgerID: t.session.ledgerID,
		wallet:   t.session.wallet,
		metrics:  t.session.snapshotMetrics(),
		at:       t.cfg.Clock(),
	})
}

// verifiedRide is the part of a session the post-verify work needs.
type verifiedRide struct {
	id       string
	ledgerID string
	wallet   string
	metrics  Metrics
	at       time.Time
}

// afterVerified records the streak and stats off the loop, emits one
// notification per change and archives the ledger record. The new streak
// length is fed back to the loop tagged with seq.
func (t *Tracker) afterVerified(seq uint64, v verifiedRide) {
	t.waitGroup.Add(1)
	go func() {
		defer t.waitGroup.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PostVerifyTimeout)
		defer cancel()

		logger := t.logger.With().Str("ride_id", v.id).Logger()

		days, recorded := 0, false
		if t.cfg.Streak != nil {
			n, changed, err := t.cfg.Streak.RecordRide(ctx, v.at)
			if err != nil {
				logger.Error().Err(err).Msg("failed to record streak")
			} else {
				days, recorded = n, true
			}
			if changed {
				t.notify(notify.Event{
					Kind:    notify.KindStreakUpdated,
					RideID:  v.ledgerID,
					Wallet:  v.wallet,
					Title:   fmt.Sprintf("%d day streak", n),
					Message: "Keep riding to grow your streak",
					Data:    map[string]any{"streakDays": n},
				})
			}
		}

		if t.cfg.Achievements != nil {
			res, err := t.cfg.Achievements.RecordRide(ctx, achievement.Ride{
				DistanceMeters:    v.metrics.DistanceMeters,
				DurationSeconds:   v.metrics.DurationSeconds,
				AverageSpeedKmh:   v.metrics.AverageSpeedKmh,
				CarbonOffsetGrams: v.metrics.CarbonOffsetGrams,
				VerifiedAt:        v.at,
			})
			if err != nil {
				logger.Error().Err(err).Msg("failed to record rider stats")
			}
			for _, b := range res.Badges {
				t.notify(notify.Event{
					Kind:    notify.KindAchievementUnlocked,
					RideID:  v.ledgerID,
					Wallet:  v.wallet,
					Title:   b.Name,
					Message: b.Description,
					Data:    map[string]any{"badgeId": b.ID},
				})
			}
			for _, c := range res.Challenges {
				t.notify(notify.Event{
					Kind:    notify.KindChallengeCompleted,
					RideID:  v.ledgerID,
					Wallet:  v.wallet,
					Title:   c.Title,
					Message: c.Description,
					Data:    map[string]any{"challengeId": c.ID, "reward": c.Reward},
				})
			}
		}

		if err := t.cfg.Ledger.Archive(v.ledgerID); err != nil {
			logger.Warn().Err(err).Msg("failed to archive verified ride")
		}

		if recorded {
			logger.Debug().Int("streak", days).Msg("post-verify bookkeeping done")
			t.enqueue(event{kind: evStreak, seq: seq, streak: days})
		}
	}()
}

func (t *Tracker) notify(e notify.Event) {
	if t.cfg.Notifier == nil {
		return
	}
	t.cfg.Notifier.Publish(e)
}

func (t *Tracker) subscribe(gen uint64) (*location.Subscription, error) {
	onSample := func(s location.Sample) {
		t.enqueue(event{kind: evSample, gen: gen, sample: s})
	}
	onError := func(err error) {
		t.enqueue(event{kind: evLocationError, gen: gen, err: err})
	}

	sub, err := t.cfg.Source.Start(onSample, onError)
	if err != nil {
		return nil, fmt.Errorf("subscribing to location: %w", err)
	}
	return sub, nil
}

func (t *Tracker) unsubscribe() {
	if t.sub != nil {
		_ = t.sub.Close()
		t.sub = nil
	}
	t.gen++
}

func (t *Tracker) startTicker() {
	t.stopTicker()
	t.tickC, t.stopTick = t.cfg.NewTicker(t.cfg.TickInterval)
}

func (t *Tracker) stopTicker() {
	if t.stopTick != nil {
		t.stopTick()
	}
	t.tickC, t.stopTick = nil, nil
}

func (t *Tracker) shutdown() {
	t.unsubscribe()
	t.stopTicker()
	if t.session != nil && t.state == StateTracking {
		t.session.stop(t.cfg.Clock())
		t.state = StateStopped
	}
	t.publish()
}

func (t *Tracker) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:           t.state,
		Warning:         t.warning,
		LastError:       t.lastErr,
		FailedOperation: t.failedOp,
		SubmitTx:        t.submitTx,
		VerifyTx:        t.verifyTx,
		StreakDays:      t.streak,
	}
	if s := t.session; s != nil {
		started := s.startedAt
		snap.RideID = s.id
		snap.LedgerID = s.ledgerID
		snap.Wallet = s.wallet
		snap.StartedAt = &started
		if !s.stoppedAt.IsZero() {
			stopped := s.stoppedAt
			snap.StoppedAt = &stopped
		}
		snap.Metrics = s.snapshotMetrics()
		snap.Track = s.trackView()
	}
	return snap
}

func (t *Tracker) publish() {
	snap := t.buildSnapshot()
	t.snapMu.Lock()
	t.snap = snap
	t.snapMu.Unlock()
}

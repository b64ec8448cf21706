// Package authority implements the cloud side of the gate-authorization
// protocol: the vehicle registry, the occupancy counter, session
// billing, and message deduplication.
//
// The Authority consumes permission and confirmation requests for both
// gate roles, produces decisions, and broadcasts billing records and
// status snapshots. All registry state is owned by a single Authority
// instance; inbound handlers serialize through one mutex, so occupancy
// can never be observed outside [0, capacity] between confirmed
// transitions.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/metric"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

// Default lot parameters, matching the deployed site.
const (
	DefaultCapacity       = 4
	DefaultWaitPeriod     = 30 * time.Second
	DefaultHourlyRate     = 2.00
	DefaultFractionalRate = 1.00
	DefaultDedupWindow    = 30 * time.Second
	DefaultDedupHorizon   = 5 * time.Minute
)

// Config holds the Authority's business configuration.
type Config struct {
	Capacity       int           `json:"capacity"`
	WaitPeriod     time.Duration `json:"wait_period"`
	HourlyRate     float64       `json:"hourly_rate"`
	FractionalRate float64       `json:"fractional_rate"`
	DedupWindow    time.Duration `json:"dedup_window"`
	DedupHorizon   time.Duration `json:"dedup_horizon"`
}

// DefaultConfig returns the deployed defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:       DefaultCapacity,
		WaitPeriod:     DefaultWaitPeriod,
		HourlyRate:     DefaultHourlyRate,
		FractionalRate: DefaultFractionalRate,
		DedupWindow:    DefaultDedupWindow,
		DedupHorizon:   DefaultDedupHorizon,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("capacity must be positive, got %d", c.Capacity),
			"Config", "Validate", "capacity validation")
	}
	if c.WaitPeriod < 0 || c.DedupWindow < 0 || c.DedupHorizon < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("durations must be non-negative"),
			"Config", "Validate", "duration validation")
	}
	if c.HourlyRate < 0 || c.FractionalRate < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("rates must be non-negative"),
			"Config", "Validate", "rate validation")
	}
	return nil
}

// Deps holds runtime dependencies for the Authority.
type Deps struct {
	Channel         transport.Channel
	Config          Config
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Authority owns the vehicle registry, the occupancy counter, and the
// deduplication cache.
type Authority struct {
	channel transport.Channel
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu            sync.Mutex
	vehicles      map[string]*Vehicle
	occupancy     int
	systemSession int64
	dedup         *gocache.Cache

	now func() time.Time

	running   atomic.Bool
	startTime time.Time
}

// New creates an Authority from its dependencies.
func New(deps Deps) *Authority {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "authority")
	}

	cfg := deps.Config
	if cfg.Capacity == 0 {
		cfg = DefaultConfig()
	}

	return &Authority{
		channel:  deps.Channel,
		cfg:      cfg,
		logger:   logger,
		metrics:  newMetrics(deps.MetricsRegistry),
		vehicles: make(map[string]*Vehicle),
		dedup:    gocache.New(cfg.DedupWindow, cfg.DedupHorizon),
		now:      time.Now,
	}
}

// Initialize validates configuration and dependencies.
func (a *Authority) Initialize() error {
	if a.channel == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil channel"),
			"Authority", "Initialize", "channel validation")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	return nil
}

// Start subscribes the Authority to the protocol request topics for
// both gate roles and publishes the initial status snapshot.
func (a *Authority) Start(ctx context.Context) error {
	if a.running.Load() {
		return errors.ErrAlreadyStarted
	}

	subscriptions := []struct {
		topic   string
		handler transport.Handler
	}{
		{protocol.Topics(protocol.RoleEntry).PermissionRequest, a.handlePermission(protocol.RoleEntry)},
		{protocol.Topics(protocol.RoleExit).PermissionRequest, a.handlePermission(protocol.RoleExit)},
		{protocol.Topics(protocol.RoleEntry).ConfirmRequest, a.handleConfirm(protocol.RoleEntry)},
		{protocol.Topics(protocol.RoleExit).ConfirmRequest, a.handleConfirm(protocol.RoleExit)},
	}

	for _, sub := range subscriptions {
		if err := a.channel.Subscribe(ctx, sub.topic, sub.handler); err != nil {
			return errors.WrapTransient(err, "Authority", "Start", "subscribe "+sub.topic)
		}
	}

	a.running.Store(true)
	a.startTime = a.now()

	a.publishStatus(ctx)
	a.logger.Info("authority started",
		"capacity", a.cfg.Capacity,
		"wait_period", a.cfg.WaitPeriod,
		"hourly_rate", a.cfg.HourlyRate)

	return nil
}

// Stop marks the Authority stopped. Subscriptions are torn down with
// the channel itself.
func (a *Authority) Stop(_ time.Duration) error {
	if !a.running.Load() {
		return nil
	}
	a.running.Store(false)
	a.logger.Info("authority stopped", "uptime", time.Since(a.startTime).String())
	return nil
}

// Occupancy returns the current occupancy count.
func (a *Authority) Occupancy() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.occupancy
}

// Capacity returns the configured lot capacity.
func (a *Authority) Capacity() int {
	return a.cfg.Capacity
}

// VehicleState returns the lifecycle state of a known vehicle.
func (a *Authority) VehicleState(uid string) (VehicleState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		return StateOutLot, false
	}
	return v.State, true
}

// Sessions returns a copy of a vehicle's completed sessions.
func (a *Authority) Sessions(uid string) []Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		return nil
	}
	out := make([]Session, len(v.Sessions))
	copy(out, v.Sessions)
	return out
}

// RequestEnterPermission decides whether a credential may enter. It is
// false when the lot is full, when the vehicle is not OutLot, or when
// the previous entry attempt was less than WaitPeriod ago. The vehicle
// record is created lazily and the attempt is recorded either way.
func (a *Authority) RequestEnterPermission(uid string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		v = newVehicle(uid)
		a.vehicles[uid] = v
	}

	if a.occupancy >= a.cfg.Capacity {
		a.logger.Info("entry denied, lot full", "uid", uid, "occupancy", a.occupancy)
		a.metrics.denial("entry", "lot_full")
		return false
	}

	if !v.recordEntryAttempt(a.now(), a.cfg.WaitPeriod) {
		a.logger.Info("entry denied", "uid", uid, "state", v.State.String())
		a.metrics.denial("entry", "rate_limited_or_state")
		return false
	}

	a.logger.Info("entry permitted", "uid", uid)
	a.metrics.grant("entry")
	return true
}

// RequestExitPermission decides whether a credential may exit. Unknown
// vehicles are denied: a car that never registered at a gate cannot
// check out.
func (a *Authority) RequestExitPermission(uid string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		a.logger.Warn("exit denied, unknown vehicle", "uid", uid)
		a.metrics.denial("exit", "unknown_vehicle")
		return false
	}

	if !v.recordExitAttempt(a.now(), a.cfg.WaitPeriod) {
		a.logger.Info("exit denied", "uid", uid, "state", v.State.String())
		a.metrics.denial("exit", "rate_limited_or_state")
		return false
	}

	a.logger.Info("exit permitted", "uid", uid)
	a.metrics.grant("exit")
	return true
}

// ConfirmEntry applies a confirmed entry: assigns the next global
// session id, increments occupancy, and moves the vehicle InLot. A
// confirmation for an unseen UID is a defined rejection, and a
// confirmation for a vehicle already InLot is rejected as a duplicate
// with no state change.
func (a *Authority) ConfirmEntry(uid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownVehicle, "Authority", "ConfirmEntry", "lookup vehicle "+uid)
	}
	if v.State != StateOutLot {
		a.metrics.confirmationRejected("entry")
		return errors.WrapInvalid(errors.ErrDuplicateConfirmation,
			"Authority", "ConfirmEntry", "vehicle already in lot")
	}
	if a.occupancy >= a.cfg.Capacity {
		// Permission raced another gate; keep the occupancy invariant.
		return errors.WrapInvalid(errors.ErrDuplicateConfirmation,
			"Authority", "ConfirmEntry", "lot full at confirmation")
	}

	a.systemSession++
	v.checkIn(a.systemSession, a.now())
	a.occupancy++

	a.metrics.setOccupancy(a.occupancy)
	a.logger.Info("vehicle entered",
		"uid", uid,
		"occupancy", a.occupancy,
		"system_session", a.systemSession,
		"vehicle_session", v.vehicleSession)

	return nil
}

// ConfirmExit applies a confirmed exit: computes the session and its
// charge, decrements occupancy, and moves the vehicle OutLot. A
// confirmation for a vehicle not InLot is rejected as a duplicate or
// out-of-order message with no state change, so occupancy is never
// decremented twice.
func (a *Authority) ConfirmExit(uid string) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.vehicles[uid]
	if !ok {
		return Session{}, errors.WrapInvalid(errors.ErrUnknownVehicle,
			"Authority", "ConfirmExit", "lookup vehicle "+uid)
	}
	if v.State != StateInLot {
		a.metrics.confirmationRejected("exit")
		return Session{}, errors.WrapInvalid(errors.ErrDuplicateConfirmation,
			"Authority", "ConfirmExit", "vehicle not in lot")
	}

	session := v.checkOut(a.now(), a.cfg.HourlyRate, a.cfg.FractionalRate)
	a.occupancy--

	a.metrics.setOccupancy(a.occupancy)
	a.metrics.sessionCompleted(session.Charge)
	a.logger.Info("vehicle exited",
		"uid", uid,
		"occupancy", a.occupancy,
		"duration", session.Duration.String(),
		"charge", session.Charge,
		"system_session", session.SystemSessionID,
		"vehicle_session", session.VehicleSessionID)

	return session, nil
}

// isDuplicate reports whether the (topic, payload) pair was seen within
// the dedup window, refreshing its last-seen time either way. At-least-
// once delivery means redelivered requests arrive byte-identical; this
// cache is what keeps occupancy and billing exactly-once.
func (a *Authority) isDuplicate(topic string, payload []byte) bool {
	key := topic + "\x00" + string(payload)

	_, seen := a.dedup.Get(key)
	a.dedup.SetDefault(key, struct{}{})
	if seen {
		a.metrics.duplicateDropped()
	}
	return seen
}

// handlePermission builds the dispatch handler for one role's
// permission request topic.
func (a *Authority) handlePermission(role protocol.Role) transport.Handler {
	topics := protocol.Topics(role)

	return func(topic string, payload []byte) {
		if a.isDuplicate(topic, payload) {
			a.logger.Debug("duplicate permission request dropped", "topic", topic)
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			a.logger.Warn("undecodable permission request", "topic", topic, "error", err)
			return
		}

		var approved bool
		if role == protocol.RoleEntry {
			approved = a.RequestEnterPermission(req.UID)
		} else {
			approved = a.RequestExitPermission(req.UID)
		}

		a.respond(topics.PermissionResponse, req.ID, approved)
	}
}

// handleConfirm builds the dispatch handler for one role's confirmation
// request topic. A confirmed exit additionally publishes the billing
// record; both confirmations publish a fresh status snapshot.
func (a *Authority) handleConfirm(role protocol.Role) transport.Handler {
	topics := protocol.Topics(role)

	return func(topic string, payload []byte) {
		if a.isDuplicate(topic, payload) {
			a.logger.Debug("duplicate confirmation dropped", "topic", topic)
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			a.logger.Warn("undecodable confirmation", "topic", topic, "error", err)
			return
		}

		ctx := context.Background()

		if role == protocol.RoleEntry {
			err = a.ConfirmEntry(req.UID)
		} else {
			var session Session
			session, err = a.ConfirmExit(req.UID)
			if err == nil {
				a.publishBilling(ctx, req.UID, session)
			}
		}

		if err != nil {
			a.logger.Warn("confirmation rejected", "topic", topic, "uid", req.UID, "error", err)
		}

		a.respond(topics.ConfirmResponse, req.ID, err == nil)

		if err == nil {
			a.publishStatus(ctx)
		}
	}
}

// respond publishes a decision envelope. Publish failures are logged
// and absorbed; the requester's timeout is the recovery path.
func (a *Authority) respond(topic, id string, approved bool) {
	data, err := protocol.Response{ID: id, Approved: approved}.Encode()
	if err != nil {
		a.logger.Error("failed to encode response", "topic", topic, "error", err)
		return
	}
	if err := a.channel.Publish(context.Background(), topic, data); err != nil {
		a.logger.Error("failed to publish response", "topic", topic, "error", err)
	}
}

// publishStatus broadcasts a retained lot status snapshot.
func (a *Authority) publishStatus(ctx context.Context) {
	a.mu.Lock()
	record := protocol.NewStatusRecord(a.now(), a.occupancy, a.cfg.Capacity)
	a.mu.Unlock()

	data, err := record.Encode()
	if err != nil {
		a.logger.Error("failed to encode status record", "error", err)
		return
	}
	if err := a.channel.PublishRetained(ctx, protocol.TopicStatus, data); err != nil {
		a.logger.Error("failed to publish status record", "error", err)
	}
}

// publishBilling broadcasts the billing record for a completed session.
func (a *Authority) publishBilling(ctx context.Context, uid string, session Session) {
	record := protocol.NewBillingRecord(
		uid,
		session.CheckIn,
		session.CheckOut,
		session.Charge,
		session.SystemSessionID,
		session.VehicleSessionID,
	)

	data, err := record.Encode()
	if err != nil {
		a.logger.Error("failed to encode billing record", "uid", uid, "error", err)
		return
	}
	if err := a.channel.Publish(ctx, protocol.TopicBilling, data); err != nil {
		a.logger.Error("failed to publish billing record", "uid", uid, "error", err)
	}
}

// Package gate implements the edge-side controller driving one physical
// gate. The controller is a finite-state machine cycling WAIT ->
// SCANNING -> TRANSIT_OPEN -> CLEARING -> WAIT, authorizing each
// credential with the occupancy authority over the bridge and bounding
// every phase of a vehicle cycle with a fail-safe timer that forces the
// gate closed if the vehicle stalls.
package gate

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/lotstream/bridge"
	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/metric"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

// State is the controller's position in the gate cycle.
type State int

// Controller states
const (
	StateWait State = iota
	StateScanning
	StateTransitOpen
	StateClearing
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateScanning:
		return "scanning"
	case StateTransitOpen:
		return "transit_open"
	case StateClearing:
		return "clearing"
	default:
		return "unknown"
	}
}

// Cycle outcomes recorded in metrics and logs.
const (
	resultCompleted        = "completed"
	resultDenied           = "denied"
	resultInterrupted      = "interrupted"
	resultAuthorizeTimeout = "authorize_timeout"
)

// Deployed defaults.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultCarTime       = 250 * time.Millisecond
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultExitDistance  = 0.0762
	DefaultEnterDistance = 1.0
)

// Config carries the tunable parameters of a gate controller.
type Config struct {
	Role protocol.Role `json:"role"`

	// Timeout bounds the authorization wait and each armed fail-safe
	// phase of a cycle.
	Timeout time.Duration `json:"timeout"`

	// CarTime is how long a threshold condition must hold continuously
	// before the controller acts on it.
	CarTime time.Duration `json:"car_time"`

	PollInterval time.Duration `json:"poll_interval"`
	ExitDistance float64       `json:"exit_distance"`

	// EnterDistance gates the WAIT -> SCANNING transition on a vehicle
	// being within range. Zero disables the presence check and the
	// controller scans continuously.
	EnterDistance float64 `json:"enter_distance"`
}

// DefaultConfig returns the deployed defaults for a role. The presence
// gate is disabled; deployments with a forward-facing sensor enable it
// by setting EnterDistance.
func DefaultConfig(role protocol.Role) Config {
	return Config{
		Role:         role,
		Timeout:      DefaultTimeout,
		CarTime:      DefaultCarTime,
		PollInterval: DefaultPollInterval,
		ExitDistance: DefaultExitDistance,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if !c.Role.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("role must be %q or %q, got %q", protocol.RoleEntry, protocol.RoleExit, c.Role),
			"Controller", "Validate", "role validation")
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("timeout must be positive, got %s", c.Timeout),
			"Controller", "Validate", "timeout validation")
	}
	if c.CarTime <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("car time must be positive, got %s", c.CarTime),
			"Controller", "Validate", "car time validation")
	}
	if c.PollInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("poll interval must be positive, got %s", c.PollInterval),
			"Controller", "Validate", "poll interval validation")
	}
	if c.ExitDistance <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("exit distance must be positive, got %v", c.ExitDistance),
			"Controller", "Validate", "exit distance validation")
	}
	return nil
}

// Deps holds the dependencies of a Controller.
type Deps struct {
	Channel         transport.Channel
	Bridge          *bridge.Bridge
	Reader          CredentialReader
	Sensor          DistanceSensor
	Actuator        Actuator
	Config          Config
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Controller drives one gate. All FSM state is owned by the control
// loop goroutine; the fail-safe timer communicates with the loop only
// through the guarded trip flag and the cycle's reset channel.
type Controller struct {
	channel  transport.Channel
	bridge   *bridge.Bridge
	reader   CredentialReader
	sensor   DistanceSensor
	actuator Actuator
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	topics   protocol.TopicSet

	// Loop-owned fields. Guarded by mu only because tests and Stop
	// observe them from outside the loop.
	mu         sync.Mutex
	state      State
	currentUID string
	debounceAt time.Time

	// Fail-safe timer. The generation counter makes the race between
	// the timer firing and the loop advancing deterministic: whichever
	// side moves first under fsMu wins, and the loser's action is a
	// no-op.
	fsMu      sync.Mutex
	fsGen     uint64
	fsTimer   *time.Timer
	fsTripped bool
	resetCh   chan struct{}

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Controller from its dependencies.
func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gate", "role", string(deps.Config.Role))
	}

	return &Controller{
		channel:  deps.Channel,
		bridge:   deps.Bridge,
		reader:   deps.Reader,
		sensor:   deps.Sensor,
		actuator: deps.Actuator,
		cfg:      deps.Config,
		logger:   logger,
		metrics:  newMetrics(deps.MetricsRegistry, string(deps.Config.Role)),
		topics:   protocol.Topics(deps.Config.Role),
		state:    StateWait,
	}
}

// Initialize validates configuration and dependencies.
func (c *Controller) Initialize() error {
	if c.channel == nil || c.bridge == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil channel or bridge"),
			"Controller", "Initialize", "transport validation")
	}
	if c.reader == nil || c.sensor == nil || c.actuator == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil hardware dependency"),
			"Controller", "Initialize", "hardware validation")
	}
	return c.cfg.Validate()
}

// Start subscribes the bridge to the role's permission response topic
// and launches the control loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	c.running = true
	c.mu.Unlock()

	if err := c.bridge.Listen(ctx, c.topics.PermissionResponse); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(loopCtx)

	c.logger.Info("gate controller started",
		"role", string(c.cfg.Role),
		"timeout", c.cfg.Timeout,
		"poll_interval", c.cfg.PollInterval)
	return nil
}

// Stop halts the control loop and forces the gate closed.
func (c *Controller) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	select {
	case <-c.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("control loop did not stop within %s", timeout),
			"Controller", "Stop", "await loop shutdown")
	}

	c.clearFailsafe()
	c.closeGate(context.Background())
	c.logger.Info("gate controller stopped")
	return nil
}

// State returns the controller's current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentUID returns the credential of the vehicle mid-cycle, if any.
func (c *Controller) CurrentUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentUID
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.tick(ctx)
	}
}

// tick advances the FSM by one poll. The fail-safe trip check runs
// first so a fired timer pre-empts any natural transition.
func (c *Controller) tick(ctx context.Context) {
	if c.takeTrip() {
		c.abortCycle(ctx, resultInterrupted)
		return
	}

	switch c.State() {
	case StateWait:
		c.waitForVehicle()
	case StateScanning:
		c.scan(ctx)
	case StateTransitOpen:
		c.watchThreshold(ctx, StateClearing, func(d float64) bool { return d < c.cfg.ExitDistance })
	case StateClearing:
		c.watchThreshold(ctx, StateWait, func(d float64) bool { return d >= c.cfg.ExitDistance })
	}
}

// waitForVehicle applies the optional presence gate before scanning.
func (c *Controller) waitForVehicle() {
	if c.cfg.EnterDistance > 0 {
		d, err := c.sensor.Read()
		if err != nil {
			c.logger.Warn("presence sensor read failed", "error", err)
			return
		}
		if d >= c.cfg.EnterDistance {
			return
		}
	}
	c.setState(StateScanning)
}

// scan polls the credential reader and, on a read, authorizes the
// vehicle with the authority. The fail-safe is armed for the
// authorization wait and re-armed fresh when the gate opens.
func (c *Controller) scan(ctx context.Context) {
	uid, ok := c.reader.Poll()
	if !ok {
		return
	}

	c.mu.Lock()
	c.currentUID = uid
	c.mu.Unlock()
	c.logger.Info("credential read", "uid", uid)

	reset := c.armFailsafe(c.cfg.Timeout)

	started := time.Now()
	approved, err := c.bridge.Call(ctx, c.topics.PermissionRequest, protocol.NewRequest(uid), c.cfg.Timeout, reset)
	c.metrics.observeAuthorize(time.Since(started))

	if err != nil {
		result := resultAuthorizeTimeout
		if stderrors.Is(err, errors.ErrCallCanceled) {
			result = resultInterrupted
		}
		c.logger.Warn("authorization failed", "uid", uid, "error", err)
		c.abortCycle(ctx, result)
		return
	}
	if !approved {
		c.logger.Info("permission denied", "uid", uid)
		c.abortCycle(ctx, resultDenied)
		return
	}

	c.openGate(ctx)
	c.armFailsafe(c.cfg.Timeout)
	c.resetDebounce()
	c.setState(StateTransitOpen)
}

// resetDebounce clears the first-crossing marker. The threshold
// condition must hold continuously for CarTime; any poll where it does
// not hold clears the marker.
func (c *Controller) resetDebounce() {
	c.mu.Lock()
	c.debounceAt = time.Time{}
	c.mu.Unlock()
}

// watchThreshold debounces a distance condition and commits the given
// transition once it has held for CarTime. The fail-safe is re-armed
// across the transition so every phase of the cycle stays bounded.
func (c *Controller) watchThreshold(ctx context.Context, next State, cond func(float64) bool) {
	d, err := c.sensor.Read()
	if err != nil {
		c.logger.Warn("threshold sensor read failed", "error", err)
		c.resetDebounce()
		return
	}
	if !cond(d) {
		c.resetDebounce()
		return
	}

	now := time.Now()
	c.mu.Lock()
	if c.debounceAt.IsZero() {
		c.debounceAt = now
		c.mu.Unlock()
		return
	}
	held := now.Sub(c.debounceAt)
	c.mu.Unlock()
	if held < c.cfg.CarTime {
		return
	}

	// The timer may fire in the same instant the condition commits;
	// disarming decides the race. If the timer already tripped, the
	// next tick handles the abort and this transition is a no-op.
	if !c.disarmFailsafe() {
		return
	}
	c.resetDebounce()

	if next == StateWait {
		c.completeCycle(ctx)
		return
	}
	c.armFailsafe(c.cfg.Timeout)
	c.setState(next)
}

// completeCycle finishes a successful passage: confirm with the
// authority, drop the arm, and return to WAIT.
func (c *Controller) completeCycle(ctx context.Context) {
	c.mu.Lock()
	uid := c.currentUID
	c.currentUID = ""
	c.mu.Unlock()

	if err := c.bridge.Notify(ctx, c.topics.ConfirmRequest, protocol.NewRequest(uid)); err != nil {
		c.logger.Error("passage confirmation failed", "uid", uid, "error", err)
	}
	c.closeGate(ctx)
	c.setState(StateWait)

	c.metrics.cycle(resultCompleted)
	c.logger.Info("vehicle cycle completed", "uid", uid)
}

// abortCycle abandons the in-flight vehicle: gate forced closed, no
// confirmation sent, state WAIT. The authority is left unaware; its
// wait-period rule absorbs the retry.
func (c *Controller) abortCycle(ctx context.Context, result string) {
	c.clearFailsafe()

	c.mu.Lock()
	uid := c.currentUID
	c.currentUID = ""
	c.mu.Unlock()

	c.closeGate(ctx)
	c.resetDebounce()
	c.setState(StateWait)

	c.metrics.cycle(result)
	if result == resultInterrupted {
		c.logger.Warn("interrupted transaction", "uid", uid)
	}
}

func (c *Controller) openGate(ctx context.Context) {
	if err := c.actuator.Open(); err != nil {
		c.logger.Error("gate open command failed", "error", err)
	}
	c.metrics.setGateOpen(true)
	if err := c.channel.Publish(ctx, c.topics.GateOpen, []byte(protocol.PayloadOpen)); err != nil {
		c.logger.Warn("gate open broadcast failed", "error", err)
	}
}

func (c *Controller) closeGate(ctx context.Context) {
	if err := c.actuator.Close(); err != nil {
		c.logger.Error("gate close command failed", "error", err)
	}
	c.metrics.setGateOpen(false)
	if err := c.channel.Publish(ctx, c.topics.GateClose, []byte(protocol.PayloadClose)); err != nil {
		c.logger.Warn("gate close broadcast failed", "error", err)
	}
}

// armFailsafe starts a fresh fail-safe phase and returns its reset
// channel, closed if the timer fires. Any previously armed timer is
// superseded.
func (c *Controller) armFailsafe(d time.Duration) <-chan struct{} {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	if c.fsTimer != nil {
		c.fsTimer.Stop()
	}
	c.fsGen++
	c.fsTripped = false
	c.resetCh = make(chan struct{})

	gen := c.fsGen
	c.fsTimer = time.AfterFunc(d, func() { c.failsafeFired(gen) })
	return c.resetCh
}

// failsafeFired claims the cycle for the timer. A stale generation
// means the loop advanced or disarmed first and the firing is void.
func (c *Controller) failsafeFired(gen uint64) {
	c.fsMu.Lock()
	if gen != c.fsGen || c.fsTripped {
		c.fsMu.Unlock()
		return
	}
	c.fsTripped = true
	reset := c.resetCh
	c.fsMu.Unlock()

	close(reset)
}

// disarmFailsafe cancels the armed timer. It returns false when the
// timer already fired and owns the cycle reset.
func (c *Controller) disarmFailsafe() bool {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	if c.fsTripped {
		return false
	}
	c.fsGen++
	if c.fsTimer != nil {
		c.fsTimer.Stop()
		c.fsTimer = nil
	}
	c.resetCh = nil
	return true
}

// clearFailsafe resets the timer state unconditionally, whether or not
// it already fired. Used when the cycle is being abandoned anyway.
func (c *Controller) clearFailsafe() {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	c.fsTripped = false
	c.fsGen++
	if c.fsTimer != nil {
		c.fsTimer.Stop()
		c.fsTimer = nil
	}
	c.resetCh = nil
}

// takeTrip consumes a fired fail-safe, if any.
func (c *Controller) takeTrip() bool {
	c.fsMu.Lock()
	defer c.fsMu.Unlock()

	if !c.fsTripped {
		return false
	}
	c.fsTripped = false
	c.fsGen++
	c.fsTimer = nil
	c.resetCh = nil
	return true
}

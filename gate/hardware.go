package gate

import "sync"

// CredentialReader polls for a presented credential. Poll never blocks;
// ok is false when no credential is waiting.
type CredentialReader interface {
	Poll() (uid string, ok bool)
}

// DistanceSensor reads the distance to whatever is in front of the gate
// threshold, in meters.
type DistanceSensor interface {
	Read() (float64, error)
}

// Actuator drives the physical gate arm. Commands are fire-and-forget;
// an error means the command could not be issued, not that the arm
// failed to move.
type Actuator interface {
	Open() error
	Close() error
}

// SimReader is an in-memory credential reader fed by test or simulation
// code.
type SimReader struct {
	mu    sync.Mutex
	queue []string
}

// NewSimReader returns an empty simulated reader.
func NewSimReader() *SimReader {
	return &SimReader{}
}

// Present enqueues a credential to be returned by a later Poll.
func (r *SimReader) Present(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, uid)
}

// Poll pops the oldest presented credential, if any.
func (r *SimReader) Poll() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return "", false
	}
	uid := r.queue[0]
	r.queue = r.queue[1:]
	return uid, true
}

// SimSensor is a distance sensor whose reading is set by test or
// simulation code.
type SimSensor struct {
	mu       sync.Mutex
	distance float64
	err      error
}

// NewSimSensor returns a simulated sensor reporting the given distance.
func NewSimSensor(distance float64) *SimSensor {
	return &SimSensor{distance: distance}
}

// Set updates the reported distance.
func (s *SimSensor) Set(distance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = distance
}

// Fail makes subsequent reads return err. Pass nil to recover.
func (s *SimSensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Read returns the configured distance or failure.
func (s *SimSensor) Read() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.distance, nil
}

// SimActuator records gate commands instead of driving hardware.
type SimActuator struct {
	mu     sync.Mutex
	open   bool
	opens  int
	closes int
}

// NewSimActuator returns a simulated actuator with the arm closed.
func NewSimActuator() *SimActuator {
	return &SimActuator{}
}

// Open raises the arm.
func (a *SimActuator) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = true
	a.opens++
	return nil
}

// Close lowers the arm.
func (a *SimActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	a.closes++
	return nil
}

// IsOpen reports whether the arm is currently raised.
func (a *SimActuator) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Opens returns how many open commands were issued.
func (a *SimActuator) Opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}

// Closes returns how many close commands were issued.
func (a *SimActuator) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}

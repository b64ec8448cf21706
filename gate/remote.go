package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

// Wire form of a remote distance exchange.
type distanceRequest struct {
	ID string `json:"id"`
}

type distanceReading struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// DistanceServer exposes a local distance sensor on the channel so a
// controller without its own threshold sensor can share a neighbor's.
type DistanceServer struct {
	channel transport.Channel
	sensor  DistanceSensor
	logger  *slog.Logger
}

// NewDistanceServer creates a server answering distance requests from
// the given sensor.
func NewDistanceServer(channel transport.Channel, sensor DistanceSensor, logger *slog.Logger) *DistanceServer {
	if logger == nil {
		logger = slog.Default().With("component", "distance_server")
	}
	return &DistanceServer{channel: channel, sensor: sensor, logger: logger}
}

// Start subscribes the server to the distance request topic.
func (s *DistanceServer) Start(ctx context.Context) error {
	err := s.channel.Subscribe(ctx, protocol.TopicExitDistanceRequest, s.handleRequest)
	if err != nil {
		return errors.WrapTransient(err, "DistanceServer", "Start", "subscribe request topic")
	}
	return nil
}

func (s *DistanceServer) handleRequest(topic string, payload []byte) {
	var req distanceRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("undecodable distance request", "topic", topic, "error", err)
		return
	}

	d, err := s.sensor.Read()
	if err != nil {
		s.logger.Warn("sensor read failed, request unanswered", "id", req.ID, "error", err)
		return
	}

	data, err := json.Marshal(distanceReading{ID: req.ID, Distance: d})
	if err != nil {
		s.logger.Error("failed to encode distance reading", "error", err)
		return
	}
	if err := s.channel.Publish(context.Background(), protocol.TopicExitDistanceResponse, data); err != nil {
		s.logger.Warn("failed to publish distance reading", "id", req.ID, "error", err)
	}
}

// RemoteDistanceSensor is a DistanceSensor backed by a DistanceServer
// elsewhere on the channel. Each Read publishes a correlated request
// and waits for the matching reading, bounded by the configured
// timeout. At most one Read is outstanding at a time, matching how the
// controller polls.
type RemoteDistanceSensor struct {
	channel transport.Channel
	logger  *slog.Logger
	timeout time.Duration

	pending chan *remoteRead // 1-slot mailbox, same shape as the bridge
}

type remoteRead struct {
	id     string
	result chan float64
}

// NewRemoteDistanceSensor creates a remote sensor with the given
// per-read timeout.
func NewRemoteDistanceSensor(channel transport.Channel, timeout time.Duration, logger *slog.Logger) *RemoteDistanceSensor {
	if logger == nil {
		logger = slog.Default().With("component", "remote_sensor")
	}

	r := &RemoteDistanceSensor{
		channel: channel,
		logger:  logger,
		timeout: timeout,
		pending: make(chan *remoteRead, 1),
	}
	r.pending <- nil
	return r
}

// Listen subscribes the sensor to the distance response topic. Call
// once before the first Read.
func (r *RemoteDistanceSensor) Listen(ctx context.Context) error {
	err := r.channel.Subscribe(ctx, protocol.TopicExitDistanceResponse, r.handleReading)
	if err != nil {
		return errors.WrapTransient(err, "RemoteDistanceSensor", "Listen", "subscribe response topic")
	}
	return nil
}

func (r *RemoteDistanceSensor) takePending(repl *remoteRead) *remoteRead {
	prev := <-r.pending
	r.pending <- repl
	return prev
}

func (r *RemoteDistanceSensor) handleReading(topic string, payload []byte) {
	var reading distanceReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		r.logger.Warn("undecodable distance reading", "topic", topic, "error", err)
		return
	}

	p := r.takePending(nil)
	if p == nil {
		r.logger.Debug("stray distance reading dropped", "id", reading.ID)
		return
	}
	if reading.ID != p.id {
		r.logger.Debug("distance reading correlation mismatch, dropped",
			"want", p.id, "got", reading.ID)
		r.takePending(p)
		return
	}

	p.result <- reading.Distance
}

// Read requests one distance sample from the remote server.
func (r *RemoteDistanceSensor) Read() (float64, error) {
	p := &remoteRead{
		id:     uuid.NewString(),
		result: make(chan float64, 1),
	}

	data, err := json.Marshal(distanceRequest{ID: p.id})
	if err != nil {
		return 0, errors.WrapInvalid(err, "RemoteDistanceSensor", "Read", "encode request")
	}

	r.takePending(p)

	if err := r.channel.Publish(context.Background(), protocol.TopicExitDistanceRequest, data); err != nil {
		r.clear(p)
		return 0, errors.WrapTransient(err, "RemoteDistanceSensor", "Read", "publish request")
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case d := <-p.result:
		return d, nil
	case <-timer.C:
		r.clear(p)
		return 0, errors.WrapTransient(errors.ErrRequestTimeout,
			"RemoteDistanceSensor", "Read", "await reading")
	}
}

func (r *RemoteDistanceSensor) clear(p *remoteRead) {
	prev := r.takePending(nil)
	if prev != nil && prev != p {
		r.takePending(prev)
	}
}

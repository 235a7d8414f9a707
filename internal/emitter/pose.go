// Package emitter publishes fitted poses and health reports over MQTT.
package emitter

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/dentar/internal/fit"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// PoseMessage is the JSON document published per handled frame.
type PoseMessage struct {
	InstanceID  string    `json:"instance_id"`
	SessionID   string    `json:"session_id"`
	FrameSeq    uint64    `json:"frame_seq"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Found       bool      `json:"found"`
	MouthOpen   int       `json:"mouth_open_pct"`
	LatencyMS   float64   `json:"latency_ms"`
	Pose        *fit.Pose `json:"pose,omitempty"`
	Sensitivity float64   `json:"sensitivity,omitempty"`
}

// NewPoseMessage builds the wire message for r.
func NewPoseMessage(instanceID string, r fit.Result) PoseMessage {
	msg := PoseMessage{
		InstanceID: instanceID,
		SessionID:  r.SessionID,
		FrameSeq:   r.FrameSeq,
		TraceID:    r.TraceID,
		Timestamp:  r.CapturedAt,
		Found:      r.Found,
		LatencyMS:  float64(r.Latency.Microseconds()) / 1000,
	}
	if r.Found {
		pose := r.Pose
		msg.Pose = &pose
		msg.MouthOpen = int(math.Round(r.Pose.Openness * 100))
		msg.Sensitivity = r.Sensitivity
	}
	return msg
}

// PoseSink queues fit results and publishes them from its own goroutine so
// the fit loop never waits on the broker. When the queue is full the newest
// result is dropped.
type PoseSink struct {
	pub        Publisher
	instanceID string
	topic      string
	qos        byte

	queue     chan fit.Result
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPoseSink starts the publishing goroutine. Close stops it.
func NewPoseSink(pub Publisher, instanceID, topic string, qos byte, buffer int) *PoseSink {
	if buffer <= 0 {
		buffer = 8
	}
	s := &PoseSink{
		pub:        pub,
		instanceID: instanceID,
		topic:      topic,
		qos:        qos,
		queue:      make(chan fit.Result, buffer),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Observe enqueues r without blocking.
func (s *PoseSink) Observe(r fit.Result) {
	select {
	case s.queue <- r:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			slog.Warn("emitter: pose queue full, dropping", "dropped_total", n)
		}
	}
}

func (s *PoseSink) run() {
	defer s.wg.Done()
	for r := range s.queue {
		payload, err := json.Marshal(NewPoseMessage(s.instanceID, r))
		if err != nil {
			s.failed.Add(1)
			slog.Error("emitter: failed to marshal pose", "error", err)
			continue
		}
		if err := s.pub.Publish(s.topic, payload, s.qos); err != nil {
			s.failed.Add(1)
			slog.Debug("emitter: pose publish failed", "frame_seq", r.FrameSeq, "error", err)
			continue
		}
		s.published.Add(1)
	}
}

// Close drains the queue and stops the goroutine. Observe must not be
// called after Close.
func (s *PoseSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		slog.Info("emitter: pose sink closed",
			"published", s.published.Load(),
			"dropped", s.dropped.Load(),
			"failed", s.failed.Load(),
		)
	})
}

// SinkStats counts pose deliveries.
type SinkStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (s *PoseSink) Stats() SinkStats {
	return SinkStats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

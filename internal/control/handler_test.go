package control

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/fit"
)

type capturePublisher struct {
	mu        sync.Mutex
	responses []Response
	topics    []string
}

func (p *capturePublisher) Publish(topic string, payload []byte, qos byte) error {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return err
	}
	p.mu.Lock()
	p.responses = append(p.responses, r)
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) last(t *testing.T) Response {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.responses)
	return p.responses[len(p.responses)-1]
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker:  "localhost:1883",
		Topics: config.MQTTTopics{
			Control: "dentar/control/booth-1",
			Pose:    "dentar/pose/booth-1",
			Health:  "dentar/health/booth-1",
		},
		QoS: map[string]byte{"control": 1, "health": 0},
	}
}

func newTestHandler(cb Callbacks) (*Handler, *capturePublisher) {
	pub := &capturePublisher{}
	h := NewHandler(testMQTTConfig(), nil, pub, cb)
	h.shutdownDelay = 0
	return h, pub
}

func TestHandleCommands(t *testing.T) {
	var (
		zoomLevel  float64
		zoomDur    time.Duration
		zoomCenter [3]float64
		resumed    bool
	)
	cb := Callbacks{
		OnGetStatus: func() map[string]any { return map[string]any{"state": "running"} },
		OnFreeze:    func() ([3]float64, error) { return [3]float64{1, 2, 3}, nil },
		OnZoom: func(level float64, d time.Duration, center [3]float64) error {
			zoomLevel, zoomDur, zoomCenter = level, d, center
			return nil
		},
		OnResume:         func() error { resumed = true; return nil },
		OnSetSensitivity: func(v float64) (float64, error) { return v, nil },
		OnSetParams: func(tn fit.Tuning) (fit.Params, error) {
			return tn.Apply(fit.DefaultParams())
		},
		OnResetParams: func() (fit.Params, error) { return fit.DefaultParams(), nil },
	}

	tests := []struct {
		name   string
		cmd    string
		status string
		check  func(t *testing.T, r Response)
	}{
		{
			name:   "status",
			cmd:    `{"command":"get_status"}`,
			status: "success",
			check: func(t *testing.T, r Response) {
				assert.Equal(t, "running", r.Data["state"])
			},
		},
		{
			name:   "freeze",
			cmd:    `{"command":"freeze"}`,
			status: "frozen",
			check: func(t *testing.T, r Response) {
				assert.Equal(t, []any{1.0, 2.0, 3.0}, r.Data["world_position"])
			},
		},
		{
			name:   "zoom",
			cmd:    `{"command":"zoom","params":{"level":2.5,"duration_ms":1500,"center":[0,1,0]}}`,
			status: "success",
			check: func(t *testing.T, r Response) {
				assert.Equal(t, 2.5, zoomLevel)
				assert.Equal(t, 1500*time.Millisecond, zoomDur)
				assert.Equal(t, [3]float64{0, 1, 0}, zoomCenter)
			},
		},
		{
			name:   "zoom without level",
			cmd:    `{"command":"zoom","params":{"duration_ms":1500}}`,
			status: "error",
		},
		{
			name:   "resume",
			cmd:    `{"command":"resume"}`,
			status: "success",
			check: func(t *testing.T, r Response) {
				assert.True(t, resumed)
			},
		},
		{
			name:   "sensitivity",
			cmd:    `{"command":"set_sensitivity","params":{"value":42}}`,
			status: "success",
			check: func(t *testing.T, r Response) {
				assert.Equal(t, 42.0, r.Data["sensitivity"])
			},
		},
		{
			name:   "sensitivity missing value",
			cmd:    `{"command":"set_sensitivity","params":{}}`,
			status: "error",
		},
		{
			name:   "set params",
			cmd:    `{"command":"set_params","params":{"offset_x":0.5}}`,
			status: "success",
			check: func(t *testing.T, r Response) {
				params := r.Data["params"].(map[string]any)
				assert.Equal(t, 0.5, params["offset_x"])
			},
		},
		{
			name:   "set params empty",
			cmd:    `{"command":"set_params","params":{}}`,
			status: "error",
		},
		{
			name:   "reset params",
			cmd:    `{"command":"reset_params"}`,
			status: "success",
		},
		{
			name:   "unknown",
			cmd:    `{"command":"dance"}`,
			status: "error",
			check: func(t *testing.T, r Response) {
				assert.Contains(t, r.Error, "unknown command")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, pub := newTestHandler(cb)

			var cmd Command
			require.NoError(t, json.Unmarshal([]byte(tt.cmd), &cmd))
			h.handleCommand(cmd)

			r := pub.last(t)
			assert.Equal(t, cmd.Command, r.CommandAck)
			assert.Equal(t, tt.status, r.Status, r.Error)
			assert.NotEmpty(t, r.Timestamp)
			assert.Equal(t, "dentar/health/booth-1", pub.topics[0])
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

func TestCallbackErrorsAreReported(t *testing.T) {
	h, pub := newTestHandler(Callbacks{
		OnFreeze: func() ([3]float64, error) { return [3]float64{}, errors.New("fit: controller stopped") },
	})

	h.handleCommand(Command{Command: "freeze"})

	r := pub.last(t)
	assert.Equal(t, "error", r.Status)
	assert.Equal(t, "fit: controller stopped", r.Error)
}

func TestMissingCallbackNotImplemented(t *testing.T) {
	h, pub := newTestHandler(Callbacks{})

	h.handleCommand(Command{Command: "resume"})

	r := pub.last(t)
	assert.Equal(t, "error", r.Status)
	assert.Equal(t, "resume not implemented", r.Error)
}

func TestShutdownRespondsFirst(t *testing.T) {
	done := make(chan struct{})
	h, pub := newTestHandler(Callbacks{
		OnShutdown: func() error { close(done); return nil },
	})

	h.handleCommand(Command{Command: "stop"})

	assert.Equal(t, "success", pub.last(t).Status)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
}

func TestMessageHandlerInvalidJSON(t *testing.T) {
	h, pub := newTestHandler(Callbacks{})

	h.messageHandler(nil, fakeMessage{payload: []byte("{not json")})

	r := pub.last(t)
	assert.Equal(t, "unknown", r.CommandAck)
	assert.Equal(t, "invalid JSON", r.Error)
}

func TestMessageHandlerQueues(t *testing.T) {
	h, _ := newTestHandler(Callbacks{})

	h.messageHandler(nil, fakeMessage{payload: []byte(`{"command":"get_status"}`)})

	select {
	case cmd := <-h.commands:
		assert.Equal(t, "get_status", cmd.Command)
	default:
		t.Fatal("command not queued")
	}
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
}

// Package control is the MQTT control plane: it receives JSON commands on
// the control topic and answers on the health topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/fit"
)

// Command represents a control plane command
type Command struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// ZoomParams are the arguments of the zoom command.
type ZoomParams struct {
	Level      float64    `json:"level"`
	DurationMS int64      `json:"duration_ms"`
	Center     [3]float64 `json:"center"`
}

// SensitivityParams are the arguments of set_sensitivity.
type SensitivityParams struct {
	Value *float64 `json:"value"`
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// Callbacks are the operations the control plane can trigger. A nil
// callback answers "not implemented".
type Callbacks struct {
	OnGetStatus      func() map[string]any
	OnFreeze         func() ([3]float64, error)
	OnZoom           func(level float64, d time.Duration, center [3]float64) error
	OnResume         func() error
	OnSetSensitivity func(float64) (float64, error)
	OnSetParams      func(fit.Tuning) (fit.Params, error)
	OnResetParams    func() (fit.Params, error)
	OnShutdown       func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	pub       Publisher
	commands  chan Command
	callbacks Callbacks

	// shutdownDelay lets the response leave before shutdown starts.
	shutdownDelay time.Duration

	// mu guards commands against a send after close.
	mu     sync.RWMutex
	closed bool
}

// NewHandler creates a new control plane handler. client is used for the
// subscription, pub for responses.
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, pub Publisher, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		pub:           pub,
		commands:      make(chan Command, 10),
		callbacks:     callbacks,
		shutdownDelay: 500 * time.Millisecond,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.commands)

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command and publishes the response.
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	fail := func(format string, args ...any) {
		resp.Status = "error"
		resp.Error = fmt.Sprintf(format, args...)
	}
	notImplemented := func() { fail("%s not implemented", cmd.Command) }

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			notImplemented()
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "freeze":
		if h.callbacks.OnFreeze == nil {
			notImplemented()
			break
		}
		pos, err := h.callbacks.OnFreeze()
		if err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "frozen"
		resp.Data = map[string]any{"world_position": pos}

	case "zoom":
		if h.callbacks.OnZoom == nil {
			notImplemented()
			break
		}
		var p ZoomParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			fail("invalid params: %v", err)
			break
		}
		if p.Level <= 0 {
			fail("missing or invalid 'level' parameter (expected number > 0)")
			break
		}
		d := time.Duration(p.DurationMS) * time.Millisecond
		if err := h.callbacks.OnZoom(p.Level, d, p.Center); err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"level": p.Level, "duration_ms": p.DurationMS}

	case "resume":
		if h.callbacks.OnResume == nil {
			notImplemented()
			break
		}
		if err := h.callbacks.OnResume(); err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"tracking_active": true}

	case "set_sensitivity":
		if h.callbacks.OnSetSensitivity == nil {
			notImplemented()
			break
		}
		var p SensitivityParams
		if err := decodeParams(cmd.Params, &p); err != nil || p.Value == nil {
			fail("missing or invalid 'value' parameter (expected number)")
			break
		}
		v, err := h.callbacks.OnSetSensitivity(*p.Value)
		if err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"sensitivity": v}

	case "set_params":
		if h.callbacks.OnSetParams == nil {
			notImplemented()
			break
		}
		var t fit.Tuning
		if err := decodeParams(cmd.Params, &t); err != nil {
			fail("invalid params: %v", err)
			break
		}
		if t.Empty() {
			fail("no tunable parameters given")
			break
		}
		p, err := h.callbacks.OnSetParams(t)
		if err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"params": p}

	case "reset_params":
		if h.callbacks.OnResetParams == nil {
			notImplemented()
			break
		}
		p, err := h.callbacks.OnResetParams()
		if err != nil {
			fail("%v", err)
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"params": p}

	case "stop", "shutdown":
		if h.callbacks.OnShutdown == nil {
			notImplemented()
			break
		}
		slog.Warn("control: shutdown command received")
		resp.Status = "success"
		resp.Data = map[string]any{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Send response BEFORE triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		fail("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// sendResponse sends a response to the health topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	if err := h.pub.Publish(h.cfg.Topics.Health, payload, h.cfg.QoS["health"]); err != nil {
		slog.Error("control: failed to publish response", "command_ack", resp.CommandAck, "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

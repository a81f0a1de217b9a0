package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"qc-vision/internal/domain/entity"
)

// Station управление станцией через плоскость управления
type Station interface {
	Start() error
	Stop() error
	State() entity.StationState
	Stats() entity.RunningStats
}

// Command команда из топика <topic>/control
type Command struct {
	Command string `json:"command"` // start | stop | get_status
}

// Response ответ в топик <topic>/control/response
type Response struct {
	CommandAck string              `json:"command_ack"`
	Status     string              `json:"status"`
	State      entity.StationState `json:"state"`
	Stats      entity.RunningStats `json:"stats"`
	Error      string              `json:"error,omitempty"`
	Timestamp  string              `json:"timestamp"`
}

// ControlHandler принимает команды запуска и остановки станции по MQTT
type ControlHandler struct {
	client   Conn
	station  Station
	topic    string
	log      *slog.Logger
	commands chan Command
	now      func() time.Time
}

func NewControlHandler(c Conn, station Station, rootTopic string, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		client:   c,
		station:  station,
		topic:    rootTopic + "/control",
		log:      logger,
		commands: make(chan Command, 10),
		now:      time.Now,
	}
}

// Start подписывается на топик команд и обрабатывает их до отмены ctx
func (h *ControlHandler) Start(ctx context.Context) error {
	h.log.Info("subscribing to control plane", "topic", h.topic)

	if err := wait(ctx, h.client.Subscribe(h.topic, 1, h.messageHandler)); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop отписывается от топика команд
func (h *ControlHandler) Stop() {
	if h.client.IsConnected() {
		h.client.Unsubscribe(h.topic).WaitTimeout(time.Second)
	}
	h.log.Info("control plane handler stopped")
}

func (h *ControlHandler) messageHandler(_ paho.Client, msg paho.Message) {
	h.enqueue(msg.Payload())
}

// enqueue разбирает команду; обработчик paho не должен блокироваться, поэтому команды идут через очередь
func (h *ControlHandler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.log.Warn("failed to parse control command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	h.log.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.log.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *ControlHandler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.respond(h.handle(cmd))
		}
	}
}

func (h *ControlHandler) handle(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	var err error
	switch cmd.Command {
	case "start":
		err = h.station.Start()
		if errors.Is(err, entity.ErrAlreadyRunning) {
			resp.Status = "already_running"
			err = nil
		}
	case "stop":
		err = h.station.Stop()
	case "get_status":
	default:
		err = fmt.Errorf("unknown command %q", cmd.Command)
	}

	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
	}
	resp.State = h.station.State()
	resp.Stats = h.station.Stats()
	return resp
}

func (h *ControlHandler) respond(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.log.Error("failed to marshal control response", "error", err)
		return
	}

	token := h.client.Publish(h.topic+"/response", 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		h.log.Warn("control response timeout", "command", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		h.log.Warn("control response failed", "command", resp.CommandAck, "error", err)
	}
}

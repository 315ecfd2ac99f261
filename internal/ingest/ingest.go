package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"fleetwatch/tracking-server/internal/cache"
	"fleetwatch/tracking-server/internal/frequency"
	"fleetwatch/tracking-server/internal/metrics"
	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

const (
	positionTopicFilter = "positions/+"
	commandTopicPrefix  = "commands/"

	// Below this speed the vehicle counts as stopped for journey events.
	movingSpeedKnots = 1.0

	persistTimeout = 2 * time.Second
)

// Handler is invoked for every persisted fix. Handlers must not block.
type Handler func(ctx context.Context, position model.Position)

// positionPayload is the wire shape trackers publish to positions/<uniqueId>.
type positionPayload struct {
	UniqueID   string         `json:"uniqueId"`
	Protocol   string         `json:"protocol"`
	FixTime    string         `json:"fixTime"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Speed      float64        `json:"speed"`  // knots
	Course     float64        `json:"course"` // degrees
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Client consumes tracker fixes from the MQTT broker, persists them, and
// fans them out to the registered handlers. It also publishes device
// commands back over the same connection.
type Client struct {
	store    *store.Store
	cache    *cache.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
	handlers []Handler

	conn mqtt.Client
}

// New builds an unconnected intake client.
func New(st *store.Store, c *cache.Cache, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{store: st, cache: c, metrics: m, logger: logger}
}

// AddHandler appends a per-position handler. Must be called before Start.
func (c *Client) AddHandler(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Start connects to the broker and subscribes to the position topic.
func (c *Client) Start(brokerURL string) error {
	clientID := "tracking-server-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker %s: %w", brokerURL, token.Error())
	}

	if token := conn.Subscribe(positionTopicFilter, 0, c.handleMessage); token.Wait() && token.Error() != nil {
		conn.Disconnect(250)
		return fmt.Errorf("subscribe %s: %w", positionTopicFilter, token.Error())
	}

	c.conn = conn
	c.logger.Info("position intake connected", "broker", brokerURL, "clientId", clientID)
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.conn != nil && c.conn.IsConnected() {
		c.conn.Disconnect(250)
	}
}

// SendCommand publishes a cadence command to the device's command topic.
func (c *Client) SendCommand(ctx context.Context, device model.Device, command frequency.Command) error {
	payload, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	token := c.conn.Publish(commandTopicPrefix+device.UniqueID, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish command to %s: %w", device.UniqueID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload positionPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		c.metrics.IngestErrors.Inc()
		c.logger.Warn("undecodable position payload", "topic", msg.Topic(), "error", err)
		return
	}

	if payload.UniqueID == "" {
		// Fall back to the topic segment: positions/<uniqueId>.
		if parts := strings.SplitN(msg.Topic(), "/", 2); len(parts) == 2 {
			payload.UniqueID = parts[1]
		}
	}

	device, ok := c.cache.DeviceByUniqueID(payload.UniqueID)
	if !ok {
		c.metrics.IngestErrors.Inc()
		c.logger.Warn("position from unknown device", "uniqueId", payload.UniqueID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	position := model.Position{
		DeviceID:   device.ID,
		Protocol:   payload.Protocol,
		FixTime:    parseFixTime(payload.FixTime),
		ServerTime: time.Now().UTC(),
		Latitude:   payload.Latitude,
		Longitude:  payload.Longitude,
		Speed:      payload.Speed,
		Course:     payload.Course,
		Attributes: payload.Attributes,
	}

	id, err := c.store.InsertPosition(ctx, position)
	if err != nil {
		c.metrics.IngestErrors.Inc()
		c.logger.Error("cannot persist position", "uniqueId", payload.UniqueID, "error", err)
		return
	}
	position.ID = id
	c.metrics.PositionsIngested.Inc()

	c.detectMotion(ctx, position)
	c.cache.UpdatePosition(position)

	for _, handler := range c.handlers {
		handler(ctx, position)
	}
}

// detectMotion records a journey start or stop event when the vehicle
// crosses the moving-speed threshold between consecutive fixes.
func (c *Client) detectMotion(ctx context.Context, position model.Position) {
	previous, ok := c.cache.LastPosition(position.DeviceID)
	if !ok {
		return
	}

	wasMoving := previous.Speed > movingSpeedKnots
	isMoving := position.Speed > movingSpeedKnots
	if wasMoving == isMoving {
		return
	}

	eventType := model.EventDeviceStopped
	if isMoving {
		eventType = model.EventDeviceMoving
	}

	event := model.MotionEvent{
		DeviceID:   position.DeviceID,
		PositionID: position.ID,
		Type:       eventType,
	}
	if _, err := c.store.InsertMotionEvent(ctx, event); err != nil {
		c.logger.Warn("cannot record motion event", "deviceId", position.DeviceID, "error", err)
		return
	}
	c.logger.Debug("motion event", "deviceId", position.DeviceID, "type", eventType)
}

func parseFixTime(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	fixTime, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Now().UTC()
	}
	return fixTime.UTC()
}

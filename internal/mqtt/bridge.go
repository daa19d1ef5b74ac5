//go:build !no_mqtt

// Package mqtt exposes the bridge to MQTT: light and sensor state and bus
// events go out, adapter registrations and commands come in.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
)

const (
	serviceUser = "huebridge#mqtt"
	linkClient  = "mqtt"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	Discovery       bool   // publish Home Assistant discovery
	DiscoveryPrefix string // default "homeassistant"
}

// Dispatcher answers API requests made on behalf of MQTT commands.
type Dispatcher interface {
	Dispatch(req bridge.Request) bridge.Response
}

// Subscriber delivers every bus event.
type Subscriber interface {
	OnAll(h events.Handler) func()
}

// client is the part of the paho client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// registerRequest is the payload of P/adapter/<client>/register.
type registerRequest struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// manageResult is published on P/manage/<op>/result.
type manageResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Bridge connects the bridge datastore and adapter registry to MQTT.
type Bridge struct {
	client client
	reg    *adapter.Registry
	ds     *datastore.Datastore
	api    Dispatcher
	cfg    Config
	prefix string
	logger *slog.Logger
	unsub  func()

	mu      sync.Mutex
	user    string
	clients map[string]adapter.Kind // clients registered over MQTT
}

// NewBridge connects to the broker. Subscriptions are (re)made on every
// connect.
func NewBridge(cfg Config, reg *adapter.Registry, ds *datastore.Datastore, api Dispatcher, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, cfg, reg, ds, api, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("hue-bridge-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge", "state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(c client, cfg Config, reg *adapter.Registry, ds *datastore.Datastore, api Dispatcher, logger *slog.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "huebridge"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	return &Bridge{
		client:  c,
		reg:     reg,
		ds:      ds,
		api:     api,
		cfg:     cfg,
		prefix:  cfg.TopicPrefix,
		logger:  logger.With("component", "mqtt"),
		clients: make(map[string]adapter.Kind),
	}
}

// Start subscribes to bus events and registers the bridge's own link
// button client.
func (b *Bridge) Start(sub Subscriber) error {
	user, err := b.ds.ServiceUser(serviceUser)
	if err != nil {
		return fmt.Errorf("mqtt service user: %w", err)
	}
	b.mu.Lock()
	b.user = user
	b.mu.Unlock()

	if _, err := b.reg.Register(linkClient, adapter.KindLink, adapter.Registration{}); err != nil {
		return fmt.Errorf("register link client: %w", err)
	}
	b.unsub = sub.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
	return nil
}

// Stop publishes offline state, detaches MQTT clients and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]adapter.Kind)
	b.mu.Unlock()
	for id, kind := range clients {
		_ = b.reg.Deregister(id, kind)
	}
	_ = b.reg.Deregister(linkClient, adapter.KindLink)

	b.publish(b.topic("bridge", "state"), []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.topic("bridge", "state"), []byte("online"), true)
	b.subscribeCommands()
	b.publishAll()
}

func (b *Bridge) subscribeCommands() {
	subs := map[string]pahomqtt.MessageHandler{
		b.topic("adapter", "+", "+"):            b.onAdapter,
		b.topic("sensors", "+", "state", "set"): b.onSensorState,
		b.topic("lights", "+", "set"):           b.onLightSet,
		b.topic("bridge", "linkbutton", "set"):  b.onLinkButton,
		b.topic("manage", "+"):                  b.onManage,
	}
	for topic, h := range subs {
		b.client.Subscribe(topic, 1, h)
	}
}

// publishAll publishes the retained state of every light and sensor, and
// their discovery documents when enabled.
func (b *Bridge) publishAll() {
	for id, l := range b.ds.Lights() {
		b.publish(b.topic("lights", id, "state"), mustJSON(l.State), true)
		if b.cfg.Discovery {
			b.publishDiscovery(buildLightDiscovery(id, l, b.prefix, b.cfg.DiscoveryPrefix))
		}
	}
	for id, s := range b.ds.Sensors() {
		b.publish(b.topic("sensors", id, "state"), mustJSON(s.State), true)
		if b.cfg.Discovery {
			b.publishDiscovery(buildSensorDiscovery(id, s, b.prefix, b.cfg.DiscoveryPrefix))
		}
	}
}

func (b *Bridge) handleEvent(ev events.Event) {
	b.publish(b.topic("events"), mustJSON(ev), false)

	switch ev.Type {
	case events.LightCreated, events.LightModified, events.LightStateChanged:
		l, err := b.ds.Light(ev.ID)
		if err != nil {
			return
		}
		b.publish(b.topic("lights", ev.ID, "state"), mustJSON(l.State), true)
		if ev.Type != events.LightStateChanged && b.cfg.Discovery {
			b.publishDiscovery(buildLightDiscovery(ev.ID, l, b.prefix, b.cfg.DiscoveryPrefix))
		}
	case events.SensorCreated, events.SensorModified, events.SensorStateModified:
		s, err := b.ds.Sensor(ev.ID)
		if err != nil {
			return
		}
		b.publish(b.topic("sensors", ev.ID, "state"), mustJSON(s.State), true)
		if ev.Type == events.SensorCreated && b.cfg.Discovery {
			b.publishDiscovery(buildSensorDiscovery(ev.ID, s, b.prefix, b.cfg.DiscoveryPrefix))
		}
	case events.LightDeleted:
		b.publish(b.topic("lights", ev.ID, "state"), nil, true)
		if b.cfg.Discovery {
			b.publishDiscovery(buildRemoveDiscovery("light", ev.ID, b.cfg.DiscoveryPrefix))
		}
	case events.SensorDeleted:
		b.publish(b.topic("sensors", ev.ID, "state"), nil, true)
		if b.cfg.Discovery {
			b.publishDiscovery(buildRemoveDiscovery("sensor", ev.ID, b.cfg.DiscoveryPrefix))
		}
	}
}

// onAdapter handles P/adapter/<client>/register|deregister|remove.
func (b *Bridge) onAdapter(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := b.split(msg.Topic())
	if len(parts) != 3 {
		return
	}
	clientID, action := parts[1], parts[2]
	switch action {
	case "register", "deregister", "remove":
	default:
		return // our own reply and manage topics
	}

	var req registerRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		b.logger.Warn("invalid adapter payload", "client", clientID, "err", err)
		return
	}
	kind, err := adapter.ParseKind(req.Kind)
	if err != nil {
		b.reply(clientID, map[string]any{"action": action, "error": err.Error()})
		return
	}

	switch action {
	case "register":
		id, err := b.reg.Register(clientID, kind, b.registration(clientID, kind, req))
		if err != nil {
			b.logger.Warn("adapter register failed", "client", clientID, "err", err)
			b.reply(clientID, map[string]any{"action": action, "kind": kind, "error": err.Error()})
			return
		}
		b.mu.Lock()
		b.clients[clientID] = kind
		b.mu.Unlock()
		b.reply(clientID, map[string]any{"action": action, "kind": kind, "id": id})
	case "deregister", "remove":
		b.mu.Lock()
		delete(b.clients, clientID)
		b.mu.Unlock()
		if action == "remove" {
			err = b.reg.Remove(clientID, kind)
		} else {
			err = b.reg.Deregister(clientID, kind)
		}
		reply := map[string]any{"action": action, "kind": kind}
		if err != nil {
			reply["error"] = err.Error()
		}
		b.reply(clientID, reply)
	}
}

func (b *Bridge) registration(clientID string, kind adapter.Kind, req registerRequest) adapter.Registration {
	reg := adapter.Registration{Type: req.Type, Name: req.Name}
	switch kind {
	case adapter.KindLight:
		reg.OnLightChange = func(c adapter.LightChange) {
			b.publish(b.topic("lights", c.ID, "change"), mustJSON(c), false)
		}
	case adapter.KindManage:
		reg.OnManage = func(ev events.Event) {
			b.publish(b.topic("adapter", clientID, "manage"), mustJSON(ev), false)
		}
	}
	return reg
}

func (b *Bridge) reply(clientID string, v any) {
	b.publish(b.topic("adapter", clientID, "reply"), mustJSON(v), false)
}

// onSensorState merges P/sensors/<id>/state/set into the sensor state.
func (b *Bridge) onSensorState(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := b.split(msg.Topic())
	if len(parts) != 4 {
		return
	}
	var state map[string]any
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		b.logger.Warn("invalid sensor state", "id", parts[1], "err", err)
		return
	}
	if err := b.reg.UpdateSensorState(parts[1], state); err != nil {
		b.logger.Warn("sensor state update failed", "id", parts[1], "err", err)
	}
}

// onLightSet applies P/lights/<id>/set as a light state request.
func (b *Bridge) onLightSet(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := b.split(msg.Topic())
	if len(parts) != 3 {
		return
	}
	b.mu.Lock()
	user := b.user
	b.mu.Unlock()
	resp := b.api.Dispatch(bridge.Request{
		Method: "PUT",
		Path:   "/api/" + user + "/lights/" + parts[1] + "/state",
		Body:   bridge.ParseBody(msg.Payload()),
	})
	if !resp.Handled() {
		b.logger.Warn("light command not handled", "id", parts[1])
	}
}

// onLinkButton presses the link button for the number of seconds in the
// payload, 30 when empty.
func (b *Bridge) onLinkButton(_ pahomqtt.Client, msg pahomqtt.Message) {
	seconds := 30.0
	if p := strings.TrimSpace(string(msg.Payload())); p != "" {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v <= 0 {
			b.logger.Warn("invalid link button duration", "payload", p)
			return
		}
		seconds = v
	}
	if err := b.reg.Press(linkClient, time.Duration(seconds*float64(time.Second))); err != nil {
		b.logger.Warn("link button press failed", "err", err)
	}
}

// onManage runs P/manage/<op> and answers on P/manage/<op>/result.
func (b *Bridge) onManage(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := b.split(msg.Topic())
	if len(parts) != 2 {
		return
	}
	op := parts[1]
	var res manageResult
	switch op {
	case adapter.OpClearConfig:
		res.Error = errString(b.reg.ClearConfig())
	case adapter.OpGetConfig:
		res.Data = b.reg.GetConfig()
	case adapter.OpSetConfig:
		res.Error = errString(b.reg.SetConfig(msg.Payload()))
	case adapter.OpLightIDs:
		res.Data = b.reg.LightIDs()
	default:
		res.Error = "unknown operation " + op
	}
	res.OK = res.Error == ""
	b.publish(b.topic("manage", op, "result"), mustJSON(res), false)
}

func (b *Bridge) publishDiscovery(msgs []discoveryMsg) {
	for _, m := range msgs {
		b.publish(m.Topic, m.Payload, true)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

// split returns the topic levels below the prefix.
func (b *Bridge) split(topic string) []string {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return nil
	}
	return strings.Split(rest, "/")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

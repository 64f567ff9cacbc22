// Package mqtt implements shadow.Client over the reserved shadow topics of
// an MQTT broker.
//
// Requests (get and update) are correlated with their accepted or rejected
// responses by a clientToken embedded in the request payload. Each delta
// subscription owns a delivery goroutine, so handlers may issue blocking
// shadow requests without stalling the paho router.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// subackFailure is the SUBACK return code of a refused subscription.
const subackFailure = 0x80

// DefaultDeliveryBuffer is the number of delta notifications queued per
// subscription before new ones are dropped.
const DefaultDeliveryBuffer = 32

// disconnectQuiesce is how long, in milliseconds, paho may spend flushing
// in-flight work on Close.
const disconnectQuiesce = 250

// conn is the subset of paho.Client used here.
type conn interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Config holds broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	TLS            *tls.Config
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	QoS            byte
	TopicPrefix    string
	// RequestTimeout bounds get and update round trips when the caller's
	// context has no deadline.
	RequestTimeout time.Duration
	DeliveryBuffer int
}

type response struct {
	accepted bool
	payload  []byte
}

// Client is a shadow.Client backed by one broker connection.
type Client struct {
	cfg    Config
	conn   conn
	logger *logging.Logger

	mu             sync.Mutex
	subs           map[string]*subscription
	responseTopics map[string]bool
	pending        map[string]chan response
	closed         bool
}

var _ shadow.Client = (*Client)(nil)

// New creates an unconnected client. Call Connect before use.
func New(cfg Config, logger *logging.Logger) *Client {
	c := newClient(cfg, logger)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.onConnectionLost(err) })
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	c.conn = paho.NewClient(opts)
	return c
}

func newClient(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = shadow.DefaultTopicPrefix
	}
	if cfg.DeliveryBuffer <= 0 {
		cfg.DeliveryBuffer = DefaultDeliveryBuffer
	}
	return &Client{
		cfg:            cfg,
		logger:         logger.WithComponent("mqtt"),
		subs:           make(map[string]*subscription),
		responseTopics: make(map[string]bool),
		pending:        make(map[string]chan response),
	}
}

// Connect opens the broker connection.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := wait(ctx, c.conn.Connect()); err != nil {
		if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
			return errors.NewUnauthorizedError("connect to broker", err)
		}
		return errors.NewConnectionError("connect to broker", err)
	}
	c.logger.Info("connected to broker", "broker", c.cfg.Broker, "client_id", c.cfg.ClientID)
	return nil
}

// Close ends every open subscription and disconnects. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	c.conn.Disconnect(disconnectQuiesce)
	return nil
}

// PublishReported sends doc to the update topic and waits for the verdict.
func (c *Client) PublishReported(ctx context.Context, thing, shadowName string, doc []byte) error {
	topic := shadow.UpdateTopic(c.cfg.TopicPrefix, thing, shadowName)
	_, err := c.request(ctx, topic, "update", doc)
	return annotate(err, thing, shadowName)
}

// GetShadow requests the current document of a shadow.
func (c *Client) GetShadow(ctx context.Context, thing, shadowName string) ([]byte, error) {
	topic := shadow.GetTopic(c.cfg.TopicPrefix, thing, shadowName)
	payload, err := c.request(ctx, topic, "get", nil)
	return payload, annotate(err, thing, shadowName)
}

// SubscribeToDelta subscribes to topic and starts delivering notifications to h.
// A subscription refused by the broker is reported as an unauthorized error.
func (c *Client) SubscribeToDelta(ctx context.Context, topic string, h shadow.Handlers) (shadow.Subscription, error) {
	sub := newSubscription(c, topic, h)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.NewStreamClosedError("client closed", nil).WithTopic(topic)
	}
	if _, dup := c.subs[topic]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: already subscribed to %s", errors.ErrInvalidInput, topic)
	}
	c.subs[topic] = sub
	c.mu.Unlock()

	if err := c.subscribe(ctx, topic, sub.enqueue); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return nil, err
	}

	go sub.run()
	c.logger.Info("subscribed to delta topic", "topic", topic)
	return sub, nil
}

func (c *Client) request(ctx context.Context, topic, op string, doc []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.ensureResponses(ctx, topic); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	body, err := withClientToken(doc, token)
	if err != nil {
		return nil, err
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[token] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
	}()

	if err := wait(ctx, c.conn.Publish(topic, c.cfg.QoS, false, body)); err != nil {
		return nil, errors.NewConnectionError(op+": publish request", err).WithTopic(topic)
	}

	select {
	case r := <-ch:
		if r.accepted {
			return r.payload, nil
		}
		var rejection shadow.ErrorResponse
		if err := json.Unmarshal(r.payload, &rejection); err != nil {
			return nil, errors.NewConnectionError(op+": undecodable rejection", err).WithTopic(topic)
		}
		return nil, rejection.Err(op)
	case <-ctx.Done():
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = errors.ErrTimeout
		}
		return nil, errors.NewConnectionError(op+": no response", cause).WithTopic(topic)
	}
}

// ensureResponses subscribes to the accepted and rejected topics of a
// request topic the first time it is used.
func (c *Client) ensureResponses(ctx context.Context, requestTopic string) error {
	c.mu.Lock()
	done := c.responseTopics[requestTopic]
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.subscribe(ctx, shadow.Accepted(requestTopic), c.responseHandler(true)); err != nil {
		return err
	}
	if err := c.subscribe(ctx, shadow.Rejected(requestTopic), c.responseHandler(false)); err != nil {
		return err
	}

	c.mu.Lock()
	c.responseTopics[requestTopic] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) responseHandler(accepted bool) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		c.deliverResponse(accepted, m.Payload())
	}
}

func (c *Client) deliverResponse(accepted bool, payload []byte) {
	var envelope struct {
		ClientToken string `json:"clientToken"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ClientToken == "" {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[envelope.ClientToken]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- response{accepted: accepted, payload: payload}:
	default:
	}
}

func (c *Client) subscribe(ctx context.Context, topic string, handler paho.MessageHandler) error {
	tok := c.conn.Subscribe(topic, c.cfg.QoS, handler)
	err := wait(ctx, tok)
	if refused(tok, topic) {
		return errors.NewUnauthorizedError("subscription refused by broker", err).WithTopic(topic)
	}
	if err != nil {
		return errors.NewConnectionError("subscribe", err).WithTopic(topic)
	}
	return nil
}

// release drops a subscription and unsubscribes it while the connection is up.
func (c *Client) release(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.conn.IsConnectionOpen() {
		return
	}
	ctx, cancel := c.withTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	if err := wait(ctx, c.conn.Unsubscribe(topic)); err != nil {
		c.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
	}
}

func (c *Client) onConnect() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	requests := make([]string, 0, len(c.responseTopics))
	for t := range c.responseTopics {
		requests = append(requests, t)
	}
	c.mu.Unlock()

	if len(subs) == 0 && len(requests) == 0 {
		return
	}
	c.logger.Info("reconnected, restoring subscriptions", "deltas", len(subs), "requests", len(requests))

	ctx, cancel := c.withTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	for _, s := range subs {
		if err := c.subscribe(ctx, s.topic, s.enqueue); err != nil {
			s.fail(err)
		}
	}
	for _, t := range requests {
		if err := c.subscribe(ctx, shadow.Accepted(t), c.responseHandler(true)); err != nil {
			c.logger.Warn("restore response subscription failed", "topic", t, "error", err)
		}
		if err := c.subscribe(ctx, shadow.Rejected(t), c.responseHandler(false)); err != nil {
			c.logger.Warn("restore response subscription failed", "topic", t, "error", err)
		}
	}
}

func (c *Client) onConnectionLost(err error) {
	c.logger.Warn("broker connection lost", "error", err)

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.fail(errors.NewConnectionError("broker connection lost", err).WithTopic(s.topic))
	}
}

// withTimeout applies d unless ctx already carries a deadline.
func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refused reports whether the broker answered a subscription with the
// failure return code.
func refused(tok paho.Token, topic string) bool {
	r, ok := tok.(interface{ Result() map[string]byte })
	if !ok {
		return false
	}
	code, ok := r.Result()[topic]
	return ok && code == subackFailure
}

// withClientToken adds a clientToken member to the JSON object doc.
func withClientToken(doc []byte, token string) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, errors.NewMalformedShadowError(fmt.Sprintf("document is not a JSON object: %v", err))
		}
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	fields["clientToken"] = raw
	return json.Marshal(fields)
}

func annotate(err error, thing, shadowName string) error {
	var be *errors.BridgeError
	if errors.As(err, &be) {
		be.WithThing(thing).WithShadow(shadowName)
	}
	return err
}

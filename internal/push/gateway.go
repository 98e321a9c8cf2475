package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscriber attaches a handler to a message subject.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

type jetStreamSubscriber struct {
	js nats.JetStreamContext
}

// NewJetStreamSubscriber relays new messages from the job stream.
func NewJetStreamSubscriber(js nats.JetStreamContext) Subscriber {
	return &jetStreamSubscriber{js: js}
}

func (s *jetStreamSubscriber) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
		msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew())
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// request is a client control message. Either a topic under backtest.job.
// or a bare job id is accepted.
type request struct {
	Action string `json:"action"` // "subscribe", "unsubscribe"
	Topic  string `json:"topic"`
	JobID  string `json:"job_id"`
}

// PushGateway streams job lifecycle events to WebSocket clients. With a nil
// Subscriber only events handed to PublishJob are delivered.
type PushGateway struct {
	logger        *zap.Logger
	sub           Subscriber
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]func() error
	mu            sync.RWMutex
}

func NewPushGateway(sub Subscriber, logger *zap.Logger) *PushGateway {
	return &PushGateway{
		logger:        logger,
		sub:           sub,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]func() error),
	}
}

func (g *PushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

// PublishJob delivers a transition to local clients without a broker.
func (g *PushGateway) PublishJob(job model.BacktestJob) {
	data, err := json.Marshal(infrastructure.JobEvent{
		JobID:      job.ID,
		StrategyID: job.StrategyID,
		Status:     job.Status,
		Error:      job.Error,
	})
	if err != nil {
		g.logger.Error("failed to marshal job event", zap.Error(err))
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	subject := infrastructure.JobSubject(job.ID)
	for topic := range g.subscriptions {
		if matches(topic, subject) {
			g.deliver(topic, data)
		}
	}
}

func (g *PushGateway) readPump(c *Client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		for topic := range g.subscriptions {
			g.removeLocked(topic, c)
		}
		close(c.send)
		g.mu.Unlock()
		infrastructure.WSConnections.Dec()
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		topic := req.Topic
		if topic == "" && req.JobID != "" {
			topic = infrastructure.JobSubject(req.JobID)
		}
		if !strings.HasPrefix(topic, infrastructure.JobSubjectPrefix) {
			g.logger.Warn("rejected websocket topic", zap.String("topic", topic))
			continue
		}

		g.mu.Lock()
		switch req.Action {
		case "subscribe":
			if g.subscriptions[topic] == nil {
				g.subscriptions[topic] = make(map[*Client]bool)
				if err := g.subscribeToNATS(topic); err != nil {
					g.logger.Error("failed to subscribe to NATS", zap.String("topic", topic), zap.Error(err))
				}
			}
			g.subscriptions[topic][c] = true
			g.logger.Info("client subscribed to topic", zap.String("topic", topic))
		case "unsubscribe":
			g.removeLocked(topic, c)
		}
		g.mu.Unlock()
	}
}

func (g *PushGateway) removeLocked(topic string, c *Client) {
	clients, ok := g.subscriptions[topic]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) > 0 {
		return
	}
	if unsubscribe, ok := g.natsSubs[topic]; ok {
		if err := unsubscribe(); err != nil {
			g.logger.Warn("failed to unsubscribe from NATS", zap.String("topic", topic), zap.Error(err))
		}
		delete(g.natsSubs, topic)
		g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
	}
	delete(g.subscriptions, topic)
}

func (g *PushGateway) writePump(c *Client) {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// deliver must be called with g.mu held.
func (g *PushGateway) deliver(topic string, data []byte) {
	for c := range g.subscriptions[topic] {
		select {
		case c.send <- data:
		default:
			// Do not block, just drop if channel is full
		}
	}
}

func (g *PushGateway) subscribeToNATS(topic string) error {
	if g.sub == nil {
		return nil
	}
	unsubscribe, err := g.sub.Subscribe(topic, func(data []byte) {
		g.mu.RLock()
		g.deliver(topic, data)
		g.mu.RUnlock()
	})
	if err != nil {
		return err
	}
	g.natsSubs[topic] = unsubscribe
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}

func matches(topic, subject string) bool {
	if topic == subject {
		return true
	}
	return topic == infrastructure.JobSubjectAll && strings.HasPrefix(subject, infrastructure.JobSubjectPrefix)
}

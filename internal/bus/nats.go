package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-health/kestrel/internal/domain"
)

// DefaultQueueGroup load-balances diagnose requests across worker nodes.
const DefaultQueueGroup = "kestrel-workers"

// queuedTopics are delivered to one member of the queue group. Every other
// topic fans out to all subscribers, so each node sees catalogue updates.
var queuedTopics = map[string]bool{
	domain.TopicDiagnosisRequest: true,
}

// NATSBus is the EventBus used when several Kestrel nodes share catalogues.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl, retrying up to cfg.NATSMaxReconnects
// times with cfg.NATSReconnectWait seconds between attempts.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := connect(context.Background(), cfg.NATSUrl, cfg.NATSMaxReconnects, wait, opts)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())

	return &NATSBus{
		conn:  conn,
		queue: DefaultQueueGroup,
		subs:  make(map[string]*natsSubscription),
	}, nil
}

func connect(ctx context.Context, url string, attempts int, wait time.Duration, opts []nats.Option) (*nats.Conn, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed", "attempt", i, "max_attempts", attempts, "error", err)

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("connect to NATS after %d attempts: %w", attempts, lastErr)
}

func (b *NATSBus) Publish(_ context.Context, scope string, topic string, payload []byte) error {
	if scope == "" {
		return ErrScopeRequired
	}
	data, err := encode(scope, topic, payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject(scope, topic), data)
}

// Subscribe joins the worker queue group for diagnose requests and
// subscribes directly for everything else.
func (b *NATSBus) Subscribe(ctx context.Context, scope string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	cb := func(m *nats.Msg) {
		msg, err := decode(m)
		if err != nil {
			slog.Error("failed to decode NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	subj := subject(scope, topic)
	if queuedTopics[topic] {
		ns, err = b.conn.QueueSubscribe(subj, b.queue, cb)
	} else {
		ns, err = b.conn.Subscribe(subj, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	sub := &natsSubscription{id: uuid.New().String(), topic: topic, sub: ns, bus: b}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request uses a NATS inbox; Reply on the other side answers it.
func (b *NATSBus) Request(ctx context.Context, scope string, topic string, payload []byte) ([]byte, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}
	data, err := encode(scope, topic, payload)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	resp, err := b.conn.RequestWithContext(ctx, subject(scope, topic), data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}

	msg, err := decode(resp)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return msg.Payload, nil
}

func (b *NATSBus) Reply(_ context.Context, msg *domain.Message, payload []byte) error {
	inbox := msg.Metadata[domain.MetadataReplyTo]
	if inbox == "" {
		return ErrNoReplyTo
	}
	data, err := encode(msg.Scope, inbox, payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(inbox, data)
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, s := range b.subs {
		_ = s.sub.Unsubscribe()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	stats := b.conn.Stats()
	slog.Info("NATS connection closing",
		"in_msgs", stats.InMsgs,
		"out_msgs", stats.OutMsgs,
		"reconnects", stats.Reconnects,
	)
	b.conn.Close()
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}

// subject maps a scoped topic onto a NATS subject.
func subject(scope, topic string) string {
	return "kestrel." + scope + "." + topic
}

func encode(scope, topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(&domain.Message{
		ID:        uuid.New().String(),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// decode unwraps the envelope and records the NATS reply inbox, if any, so
// that Reply can answer the request.
func decode(m *nats.Msg) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return nil, err
	}
	if m.Reply != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string)
		}
		msg.Metadata[domain.MetadataReplyTo] = m.Reply
	}
	return &msg, nil
}

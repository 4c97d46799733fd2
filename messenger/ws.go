package messenger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/watchtower-go/agreement"
)

const DEFAULT_RECONNECT_DELAY = 5 * time.Second

var ErrNotConnected = errors.New("messenger not connected")

// WsMessenger subscribes to a websocket relay. Every text frame is a
// JSON envelope; frames that fail to decode are dropped.
type WsMessenger struct {
	url            string
	dialer         websocket.Dialer
	deserialize    agreement.SwapDataDeserializer
	reconnectDelay time.Duration
	log            logger.FieldLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers []agreement.MessageHandler
	done     chan struct{}
}

var _ agreement.Messenger = (*WsMessenger)(nil)

func NewWsMessenger(url string, deserialize agreement.SwapDataDeserializer) *WsMessenger {
	return &WsMessenger{
		url:            url,
		dialer:         websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		deserialize:    deserialize,
		reconnectDelay: DEFAULT_RECONNECT_DELAY,
		log:            logger.WithField("module", "messenger"),
		done:           make(chan struct{}),
	}
}

func (m *WsMessenger) Subscribe(handler agreement.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return nil
}

// Init connects and starts the read loop. The loop reconnects until ctx is done.
func (m *WsMessenger) Init(ctx context.Context) error {
	conn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	go m.readLoop(ctx, conn)
	return nil
}

func (m *WsMessenger) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.mu.Unlock()
	m.log.WithField("url", m.url).Info("messenger connected")
	return conn, nil
}

func (m *WsMessenger) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(m.done)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("messenger read failed, reconnecting")
			conn = m.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}

		msg, err := Decode(raw, m.deserialize)
		if err != nil {
			m.log.WithError(err).Debug("dropping undecodable message")
			continue
		}
		m.mu.Lock()
		handlers := append([]agreement.MessageHandler(nil), m.handlers...)
		m.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (m *WsMessenger) reconnect(ctx context.Context) *websocket.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.reconnectDelay):
		}
		conn, err := m.connect(ctx)
		if err == nil {
			return conn
		}
		m.log.WithError(err).Warn("messenger reconnect failed")
	}
}

// Broadcast sends msg to the relay.
func (m *WsMessenger) Broadcast(ctx context.Context, msg agreement.Message) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		m.conn.SetWriteDeadline(deadline)
	}
	return m.conn.WriteMessage(websocket.TextMessage, raw)
}

// Done is closed once the read loop exits.
func (m *WsMessenger) Done() <-chan struct{} {
	return m.done
}

package messenger

import (
	"context"
	"sync"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// Local delivers broadcasts to in-process subscribers synchronously.
type Local struct {
	mu       sync.Mutex
	handlers []agreement.MessageHandler
}

var _ agreement.Messenger = (*Local)(nil)

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Init(ctx context.Context) error {
	return nil
}

func (l *Local) Subscribe(handler agreement.MessageHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
	return nil
}

func (l *Local) Broadcast(ctx context.Context, msg agreement.Message) error {
	l.mu.Lock()
	handlers := append([]agreement.MessageHandler(nil), l.handlers...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

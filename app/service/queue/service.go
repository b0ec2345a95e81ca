package queue

import (
	"log/slog"
	"sync"

	"prefrontal/app/model"
	"prefrontal/app/util/metrics"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

// Service buffers inbound chat messages between the transports and the engine.
type Service struct {
	queue chan model.Message

	mu     sync.RWMutex
	closed bool
}

func New(_ *do.Injector) (*Service, error) {
	return &Service{
		queue: make(chan model.Message, bufferSize),
	}, nil
}

// Add enqueues msg without blocking; it reports false when the message was dropped.
func (s *Service) Add(source string, msg model.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		metrics.InboundMessagesTotal.WithLabelValues(source, "closed").Inc()
		return false
	}

	select {
	case s.queue <- msg:
		metrics.InboundMessagesTotal.WithLabelValues(source, "queued").Inc()
		return true
	default:
		slog.Warn("message queue is full",
			"source", source,
			"stream", msg.StreamKey,
		)
		metrics.InboundMessagesTotal.WithLabelValues(source, "dropped").Inc()
		return false
	}
}

func (s *Service) Channel() <-chan model.Message {
	return s.queue
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}

	return nil
}

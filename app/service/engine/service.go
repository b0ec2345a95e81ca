package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"prefrontal/app/client/natsbus"
	"prefrontal/app/client/twitch_irc"
	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/service/conversation"
	"prefrontal/app/service/queue"
	"prefrontal/app/util/metrics"

	"github.com/samber/do"
	"github.com/samber/oops"
)

type registry interface {
	GetOrCreate(ctx context.Context, key string) (*conversation.Conversation, error)
	Get(key string) (*conversation.Conversation, bool)
}

// maxBacklog bounds the messages waiting for one stream while its
// conversation is being resolved.
const maxBacklog = 64

// Service moves inbound messages from the queue into their conversations.
// Each stream is resolved on its own goroutine so a slow initialization
// never holds up other streams.
type Service struct {
	registry registry
	queueSvc *queue.Service

	mu      sync.Mutex
	backlog map[string][]model.Message
	wg      sync.WaitGroup
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	s := newService(
		do.MustInvoke[*conversation.Registry](di),
		do.MustInvoke[*queue.Service](di),
	)

	if cfg.Twitch.Enabled {
		do.MustInvoke[*twitch_irc.Client](di).SetListener(func(msg model.Message) {
			s.queueSvc.Add(model.PlatformTwitch, msg)
		})
	}

	bus := do.MustInvoke[*natsbus.Client](di)
	err := bus.Subscribe(
		func(msg model.Message) {
			s.queueSvc.Add(model.PlatformNATS, msg)
		},
		func(n model.Notification) {
			s.Notify(n)
		},
	)
	if err != nil {
		return nil, oops.In("engine").Wrapf(err, "failed to subscribe to NATS")
	}

	return s, nil
}

func newService(registry registry, queueSvc *queue.Service) *Service {
	return &Service{
		registry: registry,
		queueSvc: queueSvc,
		backlog:  make(map[string][]model.Message),
	}
}

func (s *Service) Run(ctx context.Context) {
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}

			s.dispatch(ctx, msg)
		}
	}
}

// dispatch appends msg to its stream backlog and starts a drain goroutine
// when none is running for that stream.
func (s *Service) dispatch(ctx context.Context, msg model.Message) {
	if _, _, err := model.ParseStreamKey(msg.StreamKey); err != nil {
		slog.Warn("Dropping message with malformed stream key",
			"stream", msg.StreamKey,
			"error", err,
		)
		metrics.InboundMessagesTotal.WithLabelValues("engine", "malformed").Inc()
		return
	}

	s.mu.Lock()
	pending, busy := s.backlog[msg.StreamKey]
	if len(pending) >= maxBacklog {
		s.mu.Unlock()
		slog.Warn("Dropping message, stream backlog is full", "stream", msg.StreamKey)
		metrics.InboundMessagesTotal.WithLabelValues("engine", "dropped").Inc()
		return
	}
	s.backlog[msg.StreamKey] = append(pending, msg)
	s.mu.Unlock()

	if busy {
		return
	}

	s.wg.Add(1)
	go s.drain(ctx, msg.StreamKey)
}

func (s *Service) drain(ctx context.Context, key string) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		batch := s.backlog[key]
		if len(batch) == 0 || ctx.Err() != nil {
			delete(s.backlog, key)
			s.mu.Unlock()
			return
		}
		s.backlog[key] = nil
		s.mu.Unlock()

		for _, msg := range batch {
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg model.Message) {
	start := time.Now()
	if err := s.process(ctx, msg); err != nil {
		slog.Warn("Failed to process message",
			"stream", msg.StreamKey,
			"error", err,
		)
		return
	}

	slog.Debug("Processed message",
		"stream", msg.StreamKey,
		"user", msg.UserID,
		"text", msg.Text,
		"duration", time.Since(start),
	)
}

func (s *Service) process(ctx context.Context, msg model.Message) error {
	if _, _, err := model.ParseStreamKey(msg.StreamKey); err != nil {
		return oops.In("engine").Wrap(err)
	}

	conv, err := s.registry.GetOrCreate(ctx, msg.StreamKey)
	if err != nil {
		return err
	}

	conv.Observe(msg)

	return nil
}

// Notify delivers n to a live conversation. Notifications for streams
// without one are dropped: only chat messages start conversations.
func (s *Service) Notify(n model.Notification) (conversation.HandleResult, bool) {
	conv, ok := s.registry.Get(n.StreamKey)
	if !ok {
		slog.Debug("Dropping notification for unknown stream",
			"stream", n.StreamKey,
			"type", n.Type,
		)
		return conversation.HandleResult{}, false
	}

	return conv.Notify(n), true
}

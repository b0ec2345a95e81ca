package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"prefrontal/app/config"
	"prefrontal/app/util/clock"
	"prefrontal/app/util/metrics"

	"github.com/samber/oops"
)

var (
	ErrInitTimeout = errors.New("timed out waiting for conversation initialization")
	ErrInitFailed  = errors.New("conversation initialization failed")
	ErrStopped     = errors.New("conversation stopped")
	ErrClosed      = errors.New("registry is shut down")
)

// Registry holds at most one live conversation per stream key.
type Registry struct {
	cfg  config.Conversation
	deps Deps

	mu           sync.RWMutex
	instances    map[string]*Conversation
	initializing map[string]*Conversation
	initDone     map[string]chan struct{}
	closed       bool

	wg sync.WaitGroup
}

func NewRegistry(cfg config.Conversation, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	return &Registry{
		cfg:          cfg,
		deps:         deps,
		instances:    make(map[string]*Conversation),
		initializing: make(map[string]*Conversation),
		initDone:     make(map[string]chan struct{}),
	}
}

// GetOrCreate returns the live conversation for key, creating it when absent.
// A new conversation is returned before its background initialization ends.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Conversation, error) {
	r.mu.RLock()
	c, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}

	if c, ok = r.instances[key]; ok {
		r.mu.Unlock()
		return c, nil
	}

	if _, ok = r.initializing[key]; ok {
		signal := r.initDone[key]
		r.mu.Unlock()

		return r.awaitInit(ctx, key, signal)
	}

	observer, err := r.deps.NewObserver(key)
	if err != nil {
		r.mu.Unlock()
		return nil, oops.In("conversation").With("stream", key).Wrapf(err, "failed to create observer")
	}

	c = newConversation(key, r.cfg, r.deps, r, observer)

	r.initializing[key] = c
	r.initDone[key] = c.initDone
	r.instances[key] = c
	r.wg.Add(1)
	r.mu.Unlock()

	slog.Info("Creating conversation", "stream", key)
	metrics.ConversationsActive.Inc()
	metrics.ConversationsTotal.WithLabelValues("created").Inc()

	go r.initialize(c)

	return c, nil
}

func (r *Registry) awaitInit(ctx context.Context, key string, signal chan struct{}) (*Conversation, error) {
	errb := oops.In("conversation").With("stream", key)

	timer := time.NewTimer(r.cfg.InitWaitTimeout)
	defer timer.Stop()

	select {
	case <-signal:
	case <-ctx.Done():
		return nil, errb.Wrapf(ctx.Err(), "gave up waiting for initialization")
	case <-timer.C:
		r.mu.Lock()
		if r.initDone[key] == signal {
			delete(r.initializing, key)
			delete(r.initDone, key)
		}
		r.mu.Unlock()

		slog.Error("Timed out waiting for conversation initialization", "stream", key)

		return nil, errb.Wrap(ErrInitTimeout)
	}

	r.mu.RLock()
	c, ok := r.instances[key]
	r.mu.RUnlock()

	if !ok {
		return nil, errb.Wrap(ErrInitFailed)
	}

	return c, nil
}

func (r *Registry) initialize(c *Conversation) {
	defer r.wg.Done()

	start := time.Now()
	err := c.initialize()

	r.mu.Lock()
	r.forgetInit(c)
	live := r.instances[c.key] == c
	if err != nil && live {
		delete(r.instances, c.key)
		metrics.ConversationsActive.Dec()
	}
	if err == nil && live {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	c.markInitDone()

	if !live {
		slog.Info("Conversation removed during initialization", "stream", c.key)
		return
	}

	if err != nil {
		slog.Error("Failed to initialize conversation",
			"stream", c.key,
			"error", err,
		)
		metrics.ConversationsTotal.WithLabelValues("init_failed").Inc()
		c.running.Store(false)
		c.setState(StateEnded)
		c.shutdown()
		return
	}

	slog.Info("Starting conversation loop",
		"stream", c.key,
		"init_duration", time.Since(start),
	)

	go func() {
		defer r.wg.Done()
		c.run()
	}()
}

// Get returns the live conversation for key without creating one.
func (r *Registry) Get(key string) (*Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.instances[key]

	return c, ok
}

// Status reports the live conversation for key.
func (r *Registry) Status(key string) (Status, bool) {
	c, ok := r.Get(key)
	if !ok {
		return Status{}, false
	}

	return c.Status(), true
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.instances))
	for key := range r.instances {
		keys = append(keys, key)
	}

	return keys
}

// Remove stops the conversation for key and forgets it.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	c, ok := r.instances[key]
	if ok {
		delete(r.instances, key)
		r.forgetInit(c)
		metrics.ConversationsActive.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	c.running.Store(false)
	c.setState(StateEnded)
	c.shutdown()

	slog.Info("Conversation removed", "stream", key)

	return true
}

// forgetInit drops the in-flight initialization markers owned by c.
// Callers hold r.mu.
func (r *Registry) forgetInit(c *Conversation) {
	if r.initializing[c.key] == c {
		delete(r.initializing, c.key)
	}
	if r.initDone[c.key] == c.initDone {
		delete(r.initDone, c.key)
	}
}

// evict forgets c if it is still the live instance for its key.
func (r *Registry) evict(c *Conversation) {
	r.mu.Lock()
	if r.instances[c.key] == c {
		delete(r.instances, c.key)
		r.forgetInit(c)
		metrics.ConversationsActive.Dec()
	}
	r.mu.Unlock()
}

// Shutdown stops every conversation and waits for their goroutines.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	conversations := make([]*Conversation, 0, len(r.instances))
	for _, c := range r.instances {
		conversations = append(conversations, c)
	}
	clear(r.instances)
	r.mu.Unlock()

	for _, c := range conversations {
		c.running.Store(false)
		c.shutdown()
		metrics.ConversationsActive.Dec()
	}

	r.wg.Wait()

	return nil
}

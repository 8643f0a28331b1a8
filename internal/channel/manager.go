package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/leaderbot/leaderbot/internal/dedupe"
	"github.com/leaderbot/leaderbot/internal/orchestrator"
	"github.com/leaderbot/leaderbot/internal/privacy"
)

const (
	DefaultQueueSize = 256
	DefaultWorkers   = 4
	// DefaultGenerations caps concurrent image generations.
	DefaultGenerations = 4
)

// ErrQueueFull is returned when the inbound queue cannot take more work. The
// platform redelivers unacknowledged events, so dropping is safe.
var ErrQueueFull = errors.New("inbound queue full")

// ErrManagerStopped is returned after Stop.
var ErrManagerStopped = errors.New("channel manager stopped")

type inboundTask struct {
	msg   InboundMessage
	reqID string
}

// ManagerOptions tune the inbound worker pool.
type ManagerOptions struct {
	QueueSize   int
	Workers     int
	Generations int
	Now         func() time.Time
}

// Manager runs inbound events off the request path: it dedupes them, derives
// the user key, asks the processor for actions and delivers them in order.
// Generations run on their own bounded pool so a slow provider never holds an
// inbound worker.
type Manager struct {
	deduper   *dedupe.Set
	deriver   *privacy.Deriver
	processor Processor
	sender    Sender
	logger    *slog.Logger
	now       func() time.Time

	inboundQueue   chan inboundTask
	inboundWorkers int
	generations    *semaphore.Weighted
	generationCap  int
	inboundOnce    sync.Once
	inboundCtx     context.Context
	inboundCancel  context.CancelFunc
	wg             sync.WaitGroup
	mu             sync.RWMutex
	stopped        bool
}

// NewManager creates a Manager. Call Start before HandleInbound.
func NewManager(log *slog.Logger, deduper *dedupe.Set, deriver *privacy.Deriver, processor Processor, sender Sender, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Generations <= 0 {
		opts.Generations = DefaultGenerations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		deduper:        deduper,
		deriver:        deriver,
		processor:      processor,
		sender:         sender,
		logger:         log.With(slog.String("component", "channel")),
		now:            opts.Now,
		inboundQueue:   make(chan inboundTask, opts.QueueSize),
		inboundWorkers: opts.Workers,
		generations:    semaphore.NewWeighted(int64(opts.Generations)),
		generationCap:  opts.Generations,
	}
}

// Start launches the worker pool. Workers exit when ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.inboundOnce.Do(func() {
		m.inboundCtx, m.inboundCancel = context.WithCancel(ctx)
		m.logger.Info("manager start", slog.Int("workers", m.inboundWorkers), slog.Int("generations", m.generationCap), slog.Int("queue", cap(m.inboundQueue)))
		for i := 0; i < m.inboundWorkers; i++ {
			m.wg.Add(1)
			go m.runInboundWorker(i)
		}
	})
}

// Stop cancels the workers and waits for in-flight events and generations,
// or for ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("manager stop")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleInbound enqueues msg without blocking.
func (m *Manager) HandleInbound(_ context.Context, msg InboundMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return ErrManagerStopped
	}
	task := inboundTask{msg: msg, reqID: uuid.NewString()}
	select {
	case m.inboundQueue <- task:
		return nil
	default:
		m.logger.Warn("inbound queue full, event dropped",
			slog.String("channel", msg.Channel.String()),
			slog.String("kind", string(msg.Kind)),
		)
		return ErrQueueFull
	}
}

// QueueLen returns the number of queued events.
func (m *Manager) QueueLen() int {
	return len(m.inboundQueue)
}

// QueueCap returns the inbound queue capacity.
func (m *Manager) QueueCap() int {
	return cap(m.inboundQueue)
}

func (m *Manager) runInboundWorker(id int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.inboundCtx.Done():
			return
		case task := <-m.inboundQueue:
			m.process(m.inboundCtx, task)
		}
	}
}

func (m *Manager) process(ctx context.Context, task inboundTask) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("inbound processing panic", slog.String("req_id", task.reqID), slog.Any("panic", r))
		}
	}()
	msg := task.msg
	userKey := m.deriver.ToUserKey(msg.PlatformUserID)
	log := m.logger.With(
		slog.String("req_id", task.reqID),
		slog.String("user", privacy.ToLogUser(userKey)),
	)

	if key := dedupe.EventKey(msg.MessageID, userKey, msg.Timestamp); key != "" {
		if m.deduper.Seen(key, m.now()) {
			log.Info("duplicate event skipped", slog.String("kind", string(msg.Kind)))
			return
		}
	}

	actions, cont := m.processor.Begin(ctx, orchestrator.Event{
		UserKey:   userKey,
		ReqID:     task.reqID,
		Locale:    msg.Locale,
		Timestamp: msg.Timestamp,
		MessageID: msg.MessageID,
		Kind:      msg.Kind,
		Text:      msg.Text,
		Payload:   msg.Payload,
		ImageURL:  msg.ImageURL,
	})
	if err := Deliver(ctx, m.sender, msg.PlatformUserID, actions); err != nil {
		log.Error("deliver actions", slog.Int("actions", len(actions)), slog.Any("error", err))
	} else {
		log.Debug("event processed", slog.String("kind", string(msg.Kind)), slog.Int("actions", len(actions)))
	}
	if cont != nil {
		m.wg.Add(1)
		go m.runGeneration(ctx, log, msg.PlatformUserID, cont)
	}
}

// runGeneration waits for a generation slot, runs cont and delivers its
// outcome. A cancelled wait still runs cont so the conversation leaves
// PROCESSING.
func (m *Manager) runGeneration(ctx context.Context, log *slog.Logger, recipient string, cont orchestrator.Continuation) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panic", slog.Any("panic", r))
		}
	}()
	if err := m.generations.Acquire(ctx, 1); err != nil {
		log.Warn("generation slot not acquired", slog.Any("error", err))
	} else {
		defer m.generations.Release(1)
	}
	actions := cont(ctx)
	if err := Deliver(ctx, m.sender, recipient, actions); err != nil {
		log.Error("deliver generation outcome", slog.Int("actions", len(actions)), slog.Any("error", err))
		return
	}
	log.Debug("generation delivered", slog.Int("actions", len(actions)))
}

package bot

import (
	"context"
	"sync"

	"prokat-bot/internal/dialog"

	"go.uber.org/zap"
)

// dispatcher fans inbound events out to one worker goroutine per chat.
// A single worker per chat keeps events for one identity strictly
// ordered while different chats run in parallel.
type dispatcher struct {
	process func(ctx context.Context, chatID int64, ev dialog.Event)
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[int64]chan dialog.Event
	wg     sync.WaitGroup
}

func newDispatcher(process func(ctx context.Context, chatID int64, ev dialog.Event), logger *zap.Logger) *dispatcher {
	return &dispatcher{
		process: process,
		logger:  logger,
		queues:  make(map[int64]chan dialog.Event),
	}
}

// dispatch routes the event to the chat's queue, spawning a worker for
// chats seen for the first time. Returns false when the chat's queue is
// full; the caller owes the user an overload notice.
func (d *dispatcher) dispatch(ctx context.Context, chatID int64, ev dialog.Event) bool {
	d.mu.Lock()
	queue, ok := d.queues[chatID]
	if !ok {
		queue = make(chan dialog.Event, queueCapacity)
		d.queues[chatID] = queue
		d.wg.Add(1)
		go d.worker(ctx, chatID, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- ev:
		return true
	default:
		d.logger.Warn("Chat queue full, rejecting event",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(ev.Kind)))
		return false
	}
}

func (d *dispatcher) worker(ctx context.Context, chatID int64, queue chan dialog.Event) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			d.process(ctx, chatID, ev)
		}
	}
}

// wait blocks until every worker has observed context cancellation.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

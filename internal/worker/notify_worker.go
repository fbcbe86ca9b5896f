// Package worker delivers booking confirmations out of band so the
// booking transaction never waits on a mail gateway.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"darshan/internal/database"
	"darshan/internal/domain"
	"darshan/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// notifyTask is the queue wire format.
type notifyTask struct {
	BookingID  string    `json:"booking_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NotifyWorker consumes confirmation tasks from redis, falling back to an
// in-memory queue when redis is absent or down. Exhausted tasks go to a
// dead-letter list for manual replay.
type NotifyWorker struct {
	db            *database.DB
	mailer        domain.Mailer
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan notifyTask
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger
}

// NewNotifyWorker builds a worker with sane defaults.
func NewNotifyWorker(db *database.DB, mailer domain.Mailer, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotifyWorker {
	return &NotifyWorker{
		db:            db,
		mailer:        mailer,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan notifyTask, models.WorkerQueueSize),
		redisQueueKey: "notify:queue",
		deadLetterKey: "notify:deadletter",
		logger:        logger,
	}
}

// EnqueueConfirmation schedules a confirmation for delivery. Redis is
// preferred for durability; the in-memory queue catches the rest.
func (w *NotifyWorker) EnqueueConfirmation(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return errors.New("booking id is required")
	}

	task := notifyTask{BookingID: bookingID, EnqueuedAt: time.Now()}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
		return errors.New("notify queue is full")
	}
}

// Start launches the delivery loop; stops when ctx is done.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notify worker started")
	defer w.logger.Info().Msg("notify worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if task, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, task)
			continue
		}

		if task, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, task)
			continue
		}

		// nothing queued anywhere, idle briefly
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.processTask(ctx, task)
		case <-time.After(time.Second):
		}
	}
}

func (w *NotifyWorker) tryLocalQueue() (notifyTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return notifyTask{}, false
	}
}

func (w *NotifyWorker) tryRedis(ctx context.Context) (notifyTask, bool) {
	if w.redis == nil {
		return notifyTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return notifyTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return notifyTask{}, false
	}
	if len(res) != 2 {
		return notifyTask{}, false
	}
	var task notifyTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return notifyTask{}, false
	}
	return task, true
}

func (w *NotifyWorker) processTask(ctx context.Context, task notifyTask) {
	booking, err := w.db.GetBooking(ctx, w.db, task.BookingID)
	if errors.Is(err, database.ErrBookingNotFound) {
		w.logger.Warn().Str("booking_id", task.BookingID).Msg("booking gone, dropping notification")
		return
	}
	if err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}
	if booking.Status == models.StatusCancelled {
		// подтверждение отменённой брони не отправляем
		return
	}

	slot, err := w.db.GetSlot(ctx, w.db, booking.SlotID)
	if err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.mailer.SendConfirmation(ctx, booking, slot); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	w.logger.Info().Str("booking_id", booking.ID).Msg("confirmation delivered")
}

func (w *NotifyWorker) retryOrFail(ctx context.Context, task notifyTask, cause error) {
	task.Attempt++
	if task.Attempt >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(cause).Str("booking_id", task.BookingID).Int("attempts", task.Attempt).Msg("notification failed, dead-lettering")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.Attempt)
	w.logger.Warn().Err(cause).Str("booking_id", task.BookingID).Dur("delay", delay).Msg("notification failed, retrying")

	time.AfterFunc(delay, func() {
		select {
		case w.queue <- task:
		default:
			w.pushDeadLetter(context.Background(), task)
		}
	})
}

func (w *NotifyWorker) pushRedis(ctx context.Context, task notifyTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotifyWorker) pushDeadLetter(ctx context.Context, task notifyTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("deadletter push")
	}
}

package models

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCheckedIn = "checked-in"
)

const (
	// MaxPartySize is the largest group a single booking may cover.
	MaxPartySize = 10

	// DefaultCancelCutoffHours is how long before the slot start a booking
	// may still be cancelled.
	DefaultCancelCutoffHours = 2

	// DefaultAvailabilityCacheTTL время жизни кэша доступности в секундах
	DefaultAvailabilityCacheTTL = 60

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 256
)

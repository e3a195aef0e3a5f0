package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Order statuses. Recording means the booking funnel is still collecting
// fields; confirm moves the order to InProgress.
const (
	StatusRecording  = "recording"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCanceled   = "canceled"
)

type User struct {
	ID          int64     `db:"id"`
	TelegramID  string    `db:"telegram_id"`
	Name        string    `db:"name"`
	PhoneNumber string    `db:"phone_number"`
	Height      string    `db:"height"`
	Weight      string    `db:"weight"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type Admin struct {
	ID         int64  `db:"id"`
	TelegramID string `db:"telegram_id"`
	Name       string `db:"name"`
}

// Item is one priced rental position from the catalog. Replaced wholesale
// on catalog refresh, read-only everywhere else.
type Item struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	Category      string `db:"category"`
	Subcategory   string `db:"subcategory"`
	DurationValue string `db:"duration_value"`
	DurationLabel string `db:"duration_label"`
	Price         string `db:"price"`
	ExternalKey   string `db:"external_key"`
}

// Duration is the distinct (value, label) projection used to build the
// duration keyboard.
type Duration struct {
	Value string `db:"duration_value"`
	Label string `db:"duration_label"`
}

type Order struct {
	ID          int64     `db:"id"`
	TelegramID  string    `db:"telegram_id"`
	Category    string    `db:"category"`
	Subcategory string    `db:"subcategory"`
	Duration    string    `db:"duration"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// OrderWithUser joins an order with its requester for admin listings.
// Orders from unregistered identities keep empty user fields.
type OrderWithUser struct {
	Order
	UserName  string `db:"user_name"`
	UserPhone string `db:"user_phone"`
}

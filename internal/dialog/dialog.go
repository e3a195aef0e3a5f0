// Package dialog implements the conversational core: per-identity
// sessions, flow definitions and the state machine that drives them.
// It is transport-agnostic; the Telegram adapter in internal/bot turns
// updates into Events and renders Responses.
package dialog

import (
	"context"

	"prokat-bot/internal/storage"
	"prokat-bot/pkg/api"
)

type EventKind string

const (
	KindCommand EventKind = "command"
	KindText    EventKind = "text"
	KindButton  EventKind = "button"
)

// Event is one inbound chat action: a slash command, a free-text
// message or a button press.
type Event struct {
	Kind    EventKind
	Payload string
}

func Command(name string) Event { return Event{Kind: KindCommand, Payload: name} }
func Text(content string) Event { return Event{Kind: KindText, Payload: content} }
func Button(tag string) Event   { return Event{Kind: KindButton, Payload: tag} }

// Choice is one interactive button. URL buttons open a link instead of
// sending callback data.
type Choice struct {
	Label string
	Data  string
	URL   string
}

// Response is one outbound message. To is the target identity: most
// responses go back to the event's sender, admin notifications fan out
// to other identities. File optionally attaches a document.
type Response struct {
	To      string
	Text    string
	Choices [][]Choice
	File    string
}

// Session is the persisted (flow, step, scratch) tuple for one identity.
// The zero value means idle.
type Session struct {
	Flow    string            `json:"flow,omitempty"`
	Step    string            `json:"step,omitempty"`
	Scratch map[string]string `json:"scratch,omitempty"`
}

func (s Session) Idle() bool {
	return s.Flow == ""
}

func (s *Session) setScratch(key, value string) {
	if s.Scratch == nil {
		s.Scratch = make(map[string]string)
	}
	s.Scratch[key] = value
}

// SessionStore persists sessions per identity. Get returns the zero
// Session when none is stored.
type SessionStore interface {
	Get(ctx context.Context, identity string) (Session, error)
	Set(ctx context.Context, identity string, session Session) error
	Clear(ctx context.Context, identity string) error
}

// Repository is the machine's sole persistence collaborator.
type Repository interface {
	GetUserByTelegramID(ctx context.Context, telegramID string) (*storage.User, error)
	CreateUser(ctx context.Context, user storage.User) (int64, error)
	UpdateUserField(ctx context.Context, telegramID, field, value string) error
	GetAdminByTelegramID(ctx context.Context, telegramID string) (*storage.Admin, error)
	ListAdmins(ctx context.Context) ([]storage.Admin, error)

	ItemCategories(ctx context.Context) ([]string, error)
	ItemSubcategories(ctx context.Context, category string) ([]string, error)
	ItemDurations(ctx context.Context, category, subcategory string) ([]storage.Duration, error)
	GetItem(ctx context.Context, category, subcategory, durationValue string) (*storage.Item, error)
	ReplaceItems(ctx context.Context, items []storage.Item) error

	CreateOrder(ctx context.Context, order storage.Order) (int64, error)
	SetOrderSubcategory(ctx context.Context, orderID int64, subcategory string) error
	SetOrderDuration(ctx context.Context, orderID int64, duration string) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	DeleteOrder(ctx context.Context, orderID int64) error
	PurgeRecordingOrders(ctx context.Context, telegramID string) error
	ListOrders(ctx context.Context) ([]storage.OrderWithUser, error)
}

var _ Repository = (*storage.PostgresStorage)(nil)

// CatalogSource fetches the priced catalog from the external pricing
// service. Consumed only by the admin catalog refresh.
type CatalogSource interface {
	GetPrices(ctx context.Context) ([]api.PricedItem, error)
}

var _ CatalogSource = (*api.Client)(nil)

// ReportExporter builds the admin xlsx order report.
type ReportExporter interface {
	ExportOrdersToExcel(ctx context.Context) (string, error)
}

var _ ReportExporter = (*storage.PostgresStorage)(nil)

// ValidationError marks user input that does not match the current
// step. The machine re-prompts and leaves the session unchanged.
type ValidationError string

func (e ValidationError) Error() string {
	return string(e)
}

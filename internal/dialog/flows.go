package dialog

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"prokat-bot/internal/storage"
)

// Flow and step names. A session stores one (flow, step) pair.
const (
	FlowRegistration = "registration"
	FlowProfileEdit  = "profile_edit"
	FlowBooking      = "booking"

	StepCollectFields     = "collect_fields"
	StepChooseField       = "choose_field"
	StepEnterValue        = "enter_value"
	StepChooseCategory    = "choose_category"
	StepChooseSubcategory = "choose_subcategory"
	StepChooseDuration    = "choose_duration"
	StepConfirm           = "confirm"
)

// Session scratch keys.
const (
	scratchField       = "field"
	scratchOrderID     = "order_id"
	scratchCategory    = "category"
	scratchSubcategory = "subcategory"
	scratchDuration    = "duration"
	scratchItemName    = "item_name"
	scratchPrice       = "price"
)

// Booking confirm buttons.
const (
	btnDone   = "done"
	btnCancel = "cancel"
)

// StepDefinition describes one stage of a flow: what event shape it
// expects, how to validate it, the side effect on success and the
// static transition target. Prompt is emitted when the step is entered.
// Next == "" terminates the flow.
type StepDefinition struct {
	Expect   EventKind
	Repeat   string
	Prompt   func(ctx context.Context, m *Machine, identity string, s *Session) ([]Response, error)
	Validate func(ctx context.Context, m *Machine, identity string, ev Event, s *Session) error
	Apply    func(ctx context.Context, m *Machine, identity string, ev Event, s *Session) ([]Response, error)
	Next     string
}

type Flow struct {
	Initial string
	Steps   map[string]StepDefinition
}

// flows is the static flow table. Immutable, shared across sessions.
var flows = map[string]*Flow{
	FlowRegistration: {
		Initial: StepCollectFields,
		Steps: map[string]StepDefinition{
			StepCollectFields: {
				Expect: KindText,
				Repeat: "Введите как показано в примере",
				Prompt: promptRegistration,
				Apply:  applyRegistration,
			},
		},
	},
	FlowProfileEdit: {
		Initial: StepChooseField,
		Steps: map[string]StepDefinition{
			StepChooseField: {
				Expect:   KindButton,
				Repeat:   msgPickOption,
				Prompt:   promptChooseField,
				Validate: validateChooseField,
				Apply:    applyChooseField,
				Next:     StepEnterValue,
			},
			StepEnterValue: {
				Expect:   KindText,
				Repeat:   "Введите новое значение сообщением",
				Prompt:   promptEnterValue,
				Validate: validateEnterValue,
				Apply:    applyEnterValue,
			},
		},
	},
	FlowBooking: {
		Initial: StepChooseCategory,
		Steps: map[string]StepDefinition{
			StepChooseCategory: {
				Expect:   KindButton,
				Repeat:   msgPickOption,
				Prompt:   promptChooseCategory,
				Validate: validateChooseCategory,
				Apply:    applyChooseCategory,
				Next:     StepChooseSubcategory,
			},
			StepChooseSubcategory: {
				Expect:   KindButton,
				Repeat:   msgPickOption,
				Prompt:   promptChooseSubcategory,
				Validate: validateChooseSubcategory,
				Apply:    applyChooseSubcategory,
				Next:     StepChooseDuration,
			},
			StepChooseDuration: {
				Expect:   KindButton,
				Repeat:   msgPickOption,
				Prompt:   promptChooseDuration,
				Validate: validateChooseDuration,
				Apply:    applyChooseDuration,
				Next:     StepConfirm,
			},
			StepConfirm: {
				Expect:   KindButton,
				Repeat:   msgPickOption,
				Prompt:   promptConfirm,
				Validate: validateConfirm,
				Apply:    applyConfirm,
			},
		},
	},
}

// --- Registration ---

func promptRegistration(_ context.Context, _ *Machine, identity string, _ *Session) ([]Response, error) {
	return []Response{
		{
			To:   identity,
			Text: "Здравствуйте, мы с Вами не знакомы.\nВведите ваше ФИО, номер телефона, рост и вес.",
		},
		{
			To:   identity,
			Text: "Пример:\nИванов Иван Иванович\n+79020007126\n175\n80",
		},
	}, nil
}

func applyRegistration(ctx context.Context, m *Machine, identity string, ev Event, _ *Session) ([]Response, error) {
	fields, err := ParseRegistration(ev.Payload)
	if err != nil {
		return nil, err
	}

	if _, err := m.repo.CreateUser(ctx, storage.User{
		TelegramID:  identity,
		Name:        fields.Name,
		PhoneNumber: fields.Phone,
		Height:      fields.Height,
		Weight:      fields.Weight,
	}); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	result := fmt.Sprintf(`Данные успешно сохранены!
Ваше ФИО: %s
Ваш номер телефона: %s
Ваш рост: %s
Ваш вес: %s`,
		fields.Name, fields.Phone, fields.Height, fields.Weight)

	return []Response{
		{To: identity, Text: result},
		{To: identity, Text: msgMenuHint},
	}, nil
}

// --- Profile edit ---

var profileFields = []Choice{
	{Label: "ФИО", Data: FieldName},
	{Label: "Номер телефона", Data: FieldPhone},
	{Label: "Рост", Data: FieldHeight},
	{Label: "Вес", Data: FieldWeight},
}

func promptChooseField(_ context.Context, _ *Machine, identity string, _ *Session) ([]Response, error) {
	choices := make([][]Choice, 0, len(profileFields))
	for _, f := range profileFields {
		choices = append(choices, []Choice{f})
	}
	return []Response{{
		To:      identity,
		Text:    "Какие данные вы хотите изменить?",
		Choices: choices,
	}}, nil
}

func validateChooseField(_ context.Context, _ *Machine, _ string, ev Event, _ *Session) error {
	for _, f := range profileFields {
		if f.Data == ev.Payload {
			return nil
		}
	}
	return ValidationError(msgPickOption)
}

func applyChooseField(_ context.Context, _ *Machine, _ string, ev Event, s *Session) ([]Response, error) {
	s.setScratch(scratchField, ev.Payload)
	return nil, nil
}

var fieldPrompts = map[string]string{
	FieldName:   "Введите новое ФИО:",
	FieldPhone:  "Введите новый номер телефона:",
	FieldHeight: "Введите новый рост:",
	FieldWeight: "Введите новый вес:",
}

func promptEnterValue(_ context.Context, _ *Machine, identity string, s *Session) ([]Response, error) {
	return []Response{{To: identity, Text: fieldPrompts[s.Scratch[scratchField]]}}, nil
}

func validateEnterValue(_ context.Context, _ *Machine, _ string, ev Event, s *Session) error {
	return ValidateField(s.Scratch[scratchField], ev.Payload)
}

func applyEnterValue(ctx context.Context, m *Machine, identity string, ev Event, s *Session) ([]Response, error) {
	field := s.Scratch[scratchField]
	if err := m.repo.UpdateUserField(ctx, identity, field, ev.Payload); err != nil {
		return nil, fmt.Errorf("update user %s: %w", field, err)
	}

	return []Response{
		{To: identity, Text: "Данные успешно обновлены!"},
		{To: identity, Text: msgMenuHint},
	}, nil
}

// --- Booking funnel ---

func promptChooseCategory(ctx context.Context, m *Machine, identity string, _ *Session) ([]Response, error) {
	categories, err := m.repo.ItemCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	return []Response{{
		To:      identity,
		Text:    "Выберите интересующий вас инвентарь:",
		Choices: choiceRows(categories),
	}}, nil
}

func validateChooseCategory(ctx context.Context, m *Machine, _ string, ev Event, _ *Session) error {
	categories, err := m.repo.ItemCategories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	if !slices.Contains(categories, ev.Payload) {
		return ValidationError(msgPickOption)
	}
	return nil
}

// applyChooseCategory opens the order record. Any stale recording order
// is dropped first: one recording order per identity.
func applyChooseCategory(ctx context.Context, m *Machine, identity string, ev Event, s *Session) ([]Response, error) {
	if err := m.repo.PurgeRecordingOrders(ctx, identity); err != nil {
		return nil, fmt.Errorf("purge recording orders: %w", err)
	}

	orderID, err := m.repo.CreateOrder(ctx, storage.Order{
		TelegramID: identity,
		Category:   ev.Payload,
		Status:     storage.StatusRecording,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.setScratch(scratchOrderID, strconv.FormatInt(orderID, 10))
	s.setScratch(scratchCategory, ev.Payload)
	return nil, nil
}

func promptChooseSubcategory(ctx context.Context, m *Machine, identity string, s *Session) ([]Response, error) {
	subcategories, err := m.repo.ItemSubcategories(ctx, s.Scratch[scratchCategory])
	if err != nil {
		return nil, fmt.Errorf("load subcategories: %w", err)
	}

	return []Response{{
		To:      identity,
		Text:    "Уточните вариант:",
		Choices: choiceRows(subcategories),
	}}, nil
}

func validateChooseSubcategory(ctx context.Context, m *Machine, _ string, ev Event, s *Session) error {
	subcategories, err := m.repo.ItemSubcategories(ctx, s.Scratch[scratchCategory])
	if err != nil {
		return fmt.Errorf("load subcategories: %w", err)
	}
	if !slices.Contains(subcategories, ev.Payload) {
		return ValidationError(msgPickOption)
	}
	return nil
}

func applyChooseSubcategory(ctx context.Context, m *Machine, _ string, ev Event, s *Session) ([]Response, error) {
	orderID, err := orderIDFromScratch(s)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SetOrderSubcategory(ctx, orderID, ev.Payload); err != nil {
		return nil, fmt.Errorf("set order subcategory: %w", err)
	}

	s.setScratch(scratchSubcategory, ev.Payload)
	return nil, nil
}

func promptChooseDuration(ctx context.Context, m *Machine, identity string, s *Session) ([]Response, error) {
	durations, err := m.repo.ItemDurations(ctx, s.Scratch[scratchCategory], s.Scratch[scratchSubcategory])
	if err != nil {
		return nil, fmt.Errorf("load durations: %w", err)
	}

	choices := make([][]Choice, 0, len(durations))
	for _, d := range durations {
		choices = append(choices, []Choice{{Label: d.Label, Data: d.Value}})
	}

	return []Response{{
		To:      identity,
		Text:    "На какой срок?",
		Choices: choices,
	}}, nil
}

func validateChooseDuration(ctx context.Context, m *Machine, _ string, ev Event, s *Session) error {
	durations, err := m.repo.ItemDurations(ctx, s.Scratch[scratchCategory], s.Scratch[scratchSubcategory])
	if err != nil {
		return fmt.Errorf("load durations: %w", err)
	}
	for _, d := range durations {
		if d.Value == ev.Payload {
			return nil
		}
	}
	return ValidationError(msgPickOption)
}

// applyChooseDuration maps the picked duration value back to its label
// and price. The lookup must combine all three predicates: the same
// value exists under other subcategories.
func applyChooseDuration(ctx context.Context, m *Machine, _ string, ev Event, s *Session) ([]Response, error) {
	item, err := m.repo.GetItem(ctx, s.Scratch[scratchCategory], s.Scratch[scratchSubcategory], ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("resolve item: %w", err)
	}

	orderID, err := orderIDFromScratch(s)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SetOrderDuration(ctx, orderID, item.DurationLabel); err != nil {
		return nil, fmt.Errorf("set order duration: %w", err)
	}

	s.setScratch(scratchDuration, item.DurationLabel)
	s.setScratch(scratchItemName, item.Name)
	s.setScratch(scratchPrice, item.Price)
	return nil, nil
}

func promptConfirm(_ context.Context, _ *Machine, identity string, s *Session) ([]Response, error) {
	text := fmt.Sprintf("Вы выбрали: %s (%s).\nСтоимость бронирования этого инвентаря: %s.\nХотите подать заявку?",
		s.Scratch[scratchItemName], s.Scratch[scratchDuration], s.Scratch[scratchPrice])

	return []Response{{
		To:   identity,
		Text: text,
		Choices: [][]Choice{
			{{Label: "Оформить", Data: btnDone}},
			{{Label: "Отмена", Data: btnCancel}},
		},
	}}, nil
}

func validateConfirm(_ context.Context, _ *Machine, _ string, ev Event, _ *Session) error {
	if ev.Payload != btnDone && ev.Payload != btnCancel {
		return ValidationError(msgPickOption)
	}
	return nil
}

func applyConfirm(ctx context.Context, m *Machine, identity string, ev Event, s *Session) ([]Response, error) {
	orderID, err := orderIDFromScratch(s)
	if err != nil {
		return nil, err
	}

	if ev.Payload == btnCancel {
		if err := m.repo.DeleteOrder(ctx, orderID); err != nil {
			return nil, fmt.Errorf("delete order: %w", err)
		}
		return []Response{
			{To: identity, Text: "Заявка сброшена."},
			{To: identity, Text: msgMenuHint},
		}, nil
	}

	if err := m.repo.UpdateOrderStatus(ctx, orderID, storage.StatusInProgress); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	// The session is dropped before the fan-out is built. If the drop
	// fails, a retried confirm re-runs the idempotent status update
	// without having notified the admins twice.
	if err := m.store.Clear(ctx, identity); err != nil {
		return nil, fmt.Errorf("clear session: %w", err)
	}

	user, err := m.repo.GetUserByTelegramID(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}

	admins, err := m.repo.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}

	responses := []Response{{To: identity, Text: "Заявка подана. Ожидайте звонка!"}}
	notification := FormatOrderPlaced(user, s.Scratch[scratchCategory], s.Scratch[scratchSubcategory], s.Scratch[scratchDuration], s.Scratch[scratchItemName], s.Scratch[scratchPrice])
	for _, admin := range admins {
		responses = append(responses, Response{To: admin.TelegramID, Text: notification})
	}
	return responses, nil
}

func orderIDFromScratch(s *Session) (int64, error) {
	orderID, err := strconv.ParseInt(s.Scratch[scratchOrderID], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad order id in session: %w", err)
	}
	return orderID, nil
}

func choiceRows(values []string) [][]Choice {
	rows := make([][]Choice, 0, len(values))
	for _, v := range values {
		rows = append(rows, []Choice{{Label: v, Data: v}})
	}
	return rows
}

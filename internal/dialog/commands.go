package dialog

import (
	"context"
	"errors"
	"fmt"

	"prokat-bot/internal/storage"

	"go.uber.org/zap"
)

// Button tags of the idle menus.
const (
	btnBook        = "book"
	btnLinks       = "links"
	btnEditProfile = "edit_profile"
	btnOrders      = "orders"
	btnReport      = "report"
	btnRefresh     = "refresh"
)

func (m *Machine) handleCommand(ctx context.Context, identity, command string) ([]Response, error) {
	switch command {
	case "start":
		return m.handleStart(ctx, identity)
	case "menu":
		return m.handleMenu(ctx, identity)
	case "help":
		return m.handleHelp(identity), nil
	default:
		return []Response{{To: identity, Text: "Неизвестная команда. " + msgMenuHint}}, nil
	}
}

func (m *Machine) handleStart(ctx context.Context, identity string) ([]Response, error) {
	if resp, err := m.resetConversation(ctx, identity); err != nil {
		return resp, err
	}

	who, user, admin, err := m.resolveRole(ctx, identity)
	if err != nil {
		m.logger.Error("Failed to resolve role",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}

	switch who {
	case roleAdmin:
		return []Response{
			{To: identity, Text: fmt.Sprintf("Здравствуй, %s", admin.Name)},
			{To: identity, Text: msgMenuHint},
		}, nil
	case roleCustomer:
		return []Response{
			{To: identity, Text: fmt.Sprintf("Здравствуйте, %s", user.Name)},
			{To: identity, Text: msgMenuHint},
		}, nil
	default:
		return m.startFlow(ctx, identity, FlowRegistration)
	}
}

// resetConversation drops in-progress flow state and sweeps stale
// recording orders. Both global commands go through here, so a user
// mid-funnel is never left silently stuck in an old step.
func (m *Machine) resetConversation(ctx context.Context, identity string) ([]Response, error) {
	if err := m.store.Clear(ctx, identity); err != nil {
		m.logger.Error("Failed to reset session",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, fmt.Errorf("clear session: %w", err)
	}

	if err := m.repo.PurgeRecordingOrders(ctx, identity); err != nil {
		m.logger.Error("Failed to purge recording orders",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}
	return nil, nil
}

// handleMenu resets the conversation and shows the role menu.
func (m *Machine) handleMenu(ctx context.Context, identity string) ([]Response, error) {
	if resp, err := m.resetConversation(ctx, identity); err != nil {
		return resp, err
	}

	who, _, _, err := m.resolveRole(ctx, identity)
	if err != nil {
		m.logger.Error("Failed to resolve role",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}

	switch who {
	case roleAdmin:
		return []Response{{
			To:   identity,
			Text: "Привет, админ. Выберите интересующий вас пункт из меню ниже:",
			Choices: [][]Choice{
				{{Label: "Заявки", Data: btnOrders}},
				{{Label: "Отчёт по заявкам", Data: btnReport}},
				{{Label: "Обновить каталог", Data: btnRefresh}},
				{{Label: "Бронирование", Data: btnBook}},
				{{Label: "Соцсети", Data: btnLinks}},
			},
		}}, nil
	case roleCustomer:
		return []Response{{
			To:   identity,
			Text: "Выберите интересующий вас пункт из меню ниже:",
			Choices: [][]Choice{
				{{Label: "Бронирование", Data: btnBook}},
				{{Label: "Изменить данные", Data: btnEditProfile}},
				{{Label: "Ссылки на другие соцсети", Data: btnLinks}},
			},
		}}, nil
	default:
		return m.startFlow(ctx, identity, FlowRegistration)
	}
}

func (m *Machine) handleHelp(identity string) []Response {
	helpText := `Доступные команды:
	/start - Начать работу с ботом
	/menu - Главное меню
	/help - Показать эту справку`

	return []Response{{To: identity, Text: helpText}}
}

// handleIdle routes menu button presses when no flow is active. Any
// unrecognized event falls to the catch-all.
func (m *Machine) handleIdle(ctx context.Context, identity string, ev Event) ([]Response, error) {
	if ev.Kind != KindButton {
		return m.catchAll(ctx, identity)
	}

	switch ev.Payload {
	case btnBook:
		return m.startBooking(ctx, identity)
	case btnEditProfile:
		return m.startProfileEdit(ctx, identity)
	case btnLinks:
		return []Response{{
			To:   identity,
			Text: "Мы в соцсетях!",
			Choices: [][]Choice{
				{{Label: "Вконтакте", URL: "https://vk.com/mokat_prokat"}},
				{{Label: "Наш сайт", URL: "https://mokat-prokat.ru/"}},
			},
		}}, nil
	case btnOrders:
		return m.adminListOrders(ctx, identity)
	case btnReport:
		return m.adminExportOrders(ctx, identity)
	case btnRefresh:
		return m.adminRefreshCatalog(ctx, identity)
	default:
		return m.catchAll(ctx, identity)
	}
}

func (m *Machine) startBooking(ctx context.Context, identity string) ([]Response, error) {
	who, _, _, err := m.resolveRole(ctx, identity)
	if err != nil {
		m.logger.Error("Failed to resolve role",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}
	if who == roleUnregistered {
		return m.startFlow(ctx, identity, FlowRegistration)
	}

	categories, err := m.repo.ItemCategories(ctx)
	if err != nil {
		m.logger.Error("Failed to load categories",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}
	if len(categories) == 0 {
		return []Response{{To: identity, Text: "Каталог пока пуст, попробуйте позднее."}}, nil
	}

	return m.startFlow(ctx, identity, FlowBooking)
}

func (m *Machine) startProfileEdit(ctx context.Context, identity string) ([]Response, error) {
	_, err := m.repo.GetUserByTelegramID(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing to edit yet, register first.
		return m.startFlow(ctx, identity, FlowRegistration)
	}
	if err != nil {
		m.logger.Error("Failed to load user",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}

	return m.startFlow(ctx, identity, FlowProfileEdit)
}

// requireAdmin gates the admin-only actions. Non-admins get the
// catch-all, not an error.
func (m *Machine) requireAdmin(ctx context.Context, identity string) (bool, []Response, error) {
	_, err := m.repo.GetAdminByTelegramID(ctx, identity)
	if err == nil {
		return true, nil, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		resp, cerr := m.catchAll(ctx, identity)
		return false, resp, cerr
	}

	m.logger.Error("Failed to check admin",
		zap.String("identity", identity),
		zap.Error(err))
	return false, []Response{{To: identity, Text: msgInternalError}}, err
}

func (m *Machine) adminListOrders(ctx context.Context, identity string) ([]Response, error) {
	ok, resp, err := m.requireAdmin(ctx, identity)
	if !ok {
		return resp, err
	}

	orders, err := m.repo.ListOrders(ctx)
	if err != nil {
		m.logger.Error("Failed to list orders",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, err
	}

	return []Response{{To: identity, Text: FormatOrderList(orders)}}, nil
}

func (m *Machine) adminExportOrders(ctx context.Context, identity string) ([]Response, error) {
	ok, resp, err := m.requireAdmin(ctx, identity)
	if !ok {
		return resp, err
	}

	filepath, err := m.reports.ExportOrdersToExcel(ctx)
	if err != nil {
		m.logger.Error("Failed to export orders",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: "Не удалось сформировать отчёт"}}, err
	}

	return []Response{{To: identity, Text: "📊 Отчёт по заявкам", File: filepath}}, nil
}

// adminRefreshCatalog replaces the item set from the pricing service.
// All-or-nothing: on any failure the current items stay untouched.
func (m *Machine) adminRefreshCatalog(ctx context.Context, identity string) ([]Response, error) {
	ok, resp, err := m.requireAdmin(ctx, identity)
	if !ok {
		return resp, err
	}

	priced, err := m.catalog.GetPrices(ctx)
	if err != nil {
		m.logger.Error("Catalog fetch failed",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: "Не удалось обновить каталог: сервис цен недоступен"}}, nil
	}

	items := make([]storage.Item, 0, len(priced))
	for _, p := range priced {
		items = append(items, storage.Item{
			Name:          p.Name,
			Category:      p.Category,
			Subcategory:   p.Subcategory,
			DurationValue: p.DurationValue,
			DurationLabel: p.DurationLabel,
			Price:         p.Price,
			ExternalKey:   p.ExternalKey,
		})
	}

	if err := m.repo.ReplaceItems(ctx, items); err != nil {
		m.logger.Error("Catalog replace failed",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: "Не удалось обновить каталог"}}, err
	}

	return []Response{{
		To:   identity,
		Text: fmt.Sprintf("Каталог обновлён: %d позиций", len(items)),
	}}, nil
}

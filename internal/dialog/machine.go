package dialog

import (
	"context"
	"errors"
	"fmt"

	"prokat-bot/internal/storage"

	"go.uber.org/zap"
)

const (
	msgInternalError = "Что-то пошло не так. Попробуйте повторить позднее."
	msgMenuHint      = "Введите команду /menu посмотреть список доступных функций"
	msgUnknownInput  = "Я не понимаю. " + msgMenuHint
	msgPickOption    = "Пожалуйста, выберите один из предложенных вариантов"
)

// Machine drives every conversational flow. It owns sessions
// exclusively; Person/Item/Order data is shared with the repository.
type Machine struct {
	store   SessionStore
	repo    Repository
	catalog CatalogSource
	reports ReportExporter
	logger  *zap.Logger
}

func NewMachine(
	store SessionStore,
	repo Repository,
	catalog CatalogSource,
	reports ReportExporter,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		store:   store,
		repo:    repo,
		catalog: catalog,
		reports: reports,
		logger:  logger,
	}
}

// Handle processes one inbound event for one identity and returns the
// outbound responses. Callers must not invoke Handle concurrently for
// the same identity; events for different identities may run in
// parallel.
func (m *Machine) Handle(ctx context.Context, identity string, ev Event) ([]Response, error) {
	session, err := m.store.Get(ctx, identity)
	if err != nil {
		m.logger.Error("Failed to load session",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, fmt.Errorf("load session: %w", err)
	}

	// Commands are reachable from any state and discard in-progress flows.
	if ev.Kind == KindCommand {
		return m.handleCommand(ctx, identity, ev.Payload)
	}

	if session.Idle() {
		return m.handleIdle(ctx, identity, ev)
	}

	return m.advance(ctx, identity, ev, session)
}

// advance runs one step transition of the active flow.
func (m *Machine) advance(ctx context.Context, identity string, ev Event, session Session) ([]Response, error) {
	flow, ok := flows[session.Flow]
	if !ok {
		return m.catchAll(ctx, identity)
	}
	def, ok := flow.Steps[session.Step]
	if !ok {
		return m.catchAll(ctx, identity)
	}

	if ev.Kind != def.Expect {
		return []Response{{To: identity, Text: def.Repeat}}, nil
	}

	if def.Validate != nil {
		if err := def.Validate(ctx, m, identity, ev, &session); err != nil {
			return m.classify(ctx, identity, session, err)
		}
	}

	responses, err := def.Apply(ctx, m, identity, ev, &session)
	if err != nil {
		return m.classify(ctx, identity, session, err)
	}

	if def.Next == "" {
		if err := m.store.Clear(ctx, identity); err != nil {
			m.logger.Error("Failed to clear session",
				zap.String("identity", identity),
				zap.String("flow", session.Flow),
				zap.Error(err))
			return append(responses, Response{To: identity, Text: msgInternalError}),
				fmt.Errorf("clear session: %w", err)
		}
		return responses, nil
	}

	session.Step = def.Next
	if err := m.store.Set(ctx, identity, session); err != nil {
		m.logger.Error("Failed to save session",
			zap.String("identity", identity),
			zap.String("flow", session.Flow),
			zap.String("step", session.Step),
			zap.Error(err))
		return append(responses, Response{To: identity, Text: msgInternalError}),
			fmt.Errorf("save session: %w", err)
	}

	prompt, err := flow.Steps[def.Next].Prompt(ctx, m, identity, &session)
	if err != nil {
		return m.classify(ctx, identity, session, err)
	}
	return append(responses, prompt...), nil
}

// classify maps a step error onto the recovery policy: validation
// errors re-prompt, a missing person redirects to registration,
// anything else is a generic failure with the session left untouched.
func (m *Machine) classify(ctx context.Context, identity string, session Session, err error) ([]Response, error) {
	var verr ValidationError
	if errors.As(err, &verr) {
		return []Response{{To: identity, Text: verr.Error()}}, nil
	}

	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("Person missing mid-flow, redirecting to registration",
			zap.String("identity", identity),
			zap.String("flow", session.Flow))
		return m.startFlow(ctx, identity, FlowRegistration)
	}

	m.logger.Error("Step failed",
		zap.String("identity", identity),
		zap.String("flow", session.Flow),
		zap.String("step", session.Step),
		zap.Error(err))
	return []Response{{To: identity, Text: msgInternalError}}, err
}

// startFlow resets the session to the flow's initial step and emits
// that step's prompt.
func (m *Machine) startFlow(ctx context.Context, identity, flowName string) ([]Response, error) {
	flow, ok := flows[flowName]
	if !ok {
		return nil, fmt.Errorf("unknown flow: %s", flowName)
	}

	session := Session{Flow: flowName, Step: flow.Initial}
	if err := m.store.Set(ctx, identity, session); err != nil {
		m.logger.Error("Failed to start flow",
			zap.String("identity", identity),
			zap.String("flow", flowName),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, fmt.Errorf("save session: %w", err)
	}

	return flow.Steps[flow.Initial].Prompt(ctx, m, identity, &session)
}

// catchAll resets the session and points the user at /menu.
func (m *Machine) catchAll(ctx context.Context, identity string) ([]Response, error) {
	if err := m.store.Clear(ctx, identity); err != nil {
		m.logger.Error("Failed to clear session",
			zap.String("identity", identity),
			zap.Error(err))
		return []Response{{To: identity, Text: msgInternalError}}, fmt.Errorf("clear session: %w", err)
	}
	return []Response{{To: identity, Text: msgUnknownInput}}, nil
}

type role int

const (
	roleUnregistered role = iota
	roleCustomer
	roleAdmin
)

// resolveRole is a repository read against admins first, then users.
// Identity equality is the entire trust boundary here.
func (m *Machine) resolveRole(ctx context.Context, identity string) (role, *storage.User, *storage.Admin, error) {
	admin, err := m.repo.GetAdminByTelegramID(ctx, identity)
	if err == nil {
		return roleAdmin, nil, admin, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return roleUnregistered, nil, nil, fmt.Errorf("resolve admin: %w", err)
	}

	user, err := m.repo.GetUserByTelegramID(ctx, identity)
	if err == nil {
		return roleCustomer, user, nil, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return roleUnregistered, nil, nil, fmt.Errorf("resolve user: %w", err)
	}

	return roleUnregistered, nil, nil, nil
}

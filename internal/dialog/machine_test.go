package dialog

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"prokat-bot/internal/storage"
	"prokat-bot/pkg/api"

	"go.uber.org/zap"
)

// --- in-memory collaborators ---

type memStore struct {
	sessions  map[string]Session
	failing   bool
	failClear bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (s *memStore) Get(_ context.Context, identity string) (Session, error) {
	if s.failing {
		return Session{}, errors.New("store unavailable")
	}
	return s.sessions[identity], nil
}

func (s *memStore) Set(_ context.Context, identity string, session Session) error {
	if s.failing {
		return errors.New("store unavailable")
	}
	s.sessions[identity] = session
	return nil
}

func (s *memStore) Clear(_ context.Context, identity string) error {
	if s.failing || s.failClear {
		return errors.New("store unavailable")
	}
	delete(s.sessions, identity)
	return nil
}

type memRepo struct {
	users     map[string]*storage.User
	admins    map[string]*storage.Admin
	items     []storage.Item
	orders    map[int64]*storage.Order
	nextOrder int64
	nextUser  int64
	orderSeq  []int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:  make(map[string]*storage.User),
		admins: make(map[string]*storage.Admin),
		orders: make(map[int64]*storage.Order),
	}
}

func (r *memRepo) GetUserByTelegramID(_ context.Context, telegramID string) (*storage.User, error) {
	user, ok := r.users[telegramID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memRepo) CreateUser(_ context.Context, user storage.User) (int64, error) {
	if existing, ok := r.users[user.TelegramID]; ok {
		return existing.ID, nil
	}
	r.nextUser++
	user.ID = r.nextUser
	r.users[user.TelegramID] = &user
	return user.ID, nil
}

func (r *memRepo) UpdateUserField(_ context.Context, telegramID, field, value string) error {
	user, ok := r.users[telegramID]
	if !ok {
		return storage.ErrNotFound
	}
	switch field {
	case FieldName:
		user.Name = value
	case FieldPhone:
		user.PhoneNumber = value
	case FieldHeight:
		user.Height = value
	case FieldWeight:
		user.Weight = value
	default:
		return errors.New("unknown field")
	}
	return nil
}

func (r *memRepo) GetAdminByTelegramID(_ context.Context, telegramID string) (*storage.Admin, error) {
	admin, ok := r.admins[telegramID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return admin, nil
}

func (r *memRepo) ListAdmins(_ context.Context) ([]storage.Admin, error) {
	var admins []storage.Admin
	for _, a := range r.admins {
		admins = append(admins, *a)
	}
	return admins, nil
}

func (r *memRepo) ItemCategories(_ context.Context) ([]string, error) {
	var categories []string
	for _, item := range r.items {
		if !slices.Contains(categories, item.Category) {
			categories = append(categories, item.Category)
		}
	}
	slices.Sort(categories)
	return categories, nil
}

func (r *memRepo) ItemSubcategories(_ context.Context, category string) ([]string, error) {
	var subcategories []string
	for _, item := range r.items {
		if item.Category == category && !slices.Contains(subcategories, item.Subcategory) {
			subcategories = append(subcategories, item.Subcategory)
		}
	}
	slices.Sort(subcategories)
	return subcategories, nil
}

func (r *memRepo) ItemDurations(_ context.Context, category, subcategory string) ([]storage.Duration, error) {
	var durations []storage.Duration
	for _, item := range r.items {
		if item.Category != category || item.Subcategory != subcategory {
			continue
		}
		d := storage.Duration{Value: item.DurationValue, Label: item.DurationLabel}
		if !slices.Contains(durations, d) {
			durations = append(durations, d)
		}
	}
	return durations, nil
}

func (r *memRepo) GetItem(_ context.Context, category, subcategory, durationValue string) (*storage.Item, error) {
	for _, item := range r.items {
		if item.Category == category && item.Subcategory == subcategory && item.DurationValue == durationValue {
			copied := item
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) ReplaceItems(_ context.Context, items []storage.Item) error {
	r.items = slices.Clone(items)
	return nil
}

func (r *memRepo) CreateOrder(_ context.Context, order storage.Order) (int64, error) {
	r.nextOrder++
	order.ID = r.nextOrder
	r.orders[order.ID] = &order
	r.orderSeq = append(r.orderSeq, order.ID)
	return order.ID, nil
}

// recordingOrder is a test inspection helper, not part of the
// repository contract.
func (r *memRepo) recordingOrder(telegramID string) *storage.Order {
	for i := len(r.orderSeq) - 1; i >= 0; i-- {
		order, ok := r.orders[r.orderSeq[i]]
		if ok && order.TelegramID == telegramID && order.Status == storage.StatusRecording {
			copied := *order
			return &copied
		}
	}
	return nil
}

func (r *memRepo) SetOrderSubcategory(_ context.Context, orderID int64, subcategory string) error {
	if order, ok := r.orders[orderID]; ok {
		order.Subcategory = subcategory
	}
	return nil
}

func (r *memRepo) SetOrderDuration(_ context.Context, orderID int64, duration string) error {
	if order, ok := r.orders[orderID]; ok {
		order.Duration = duration
	}
	return nil
}

func (r *memRepo) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	if order, ok := r.orders[orderID]; ok {
		order.Status = status
	}
	return nil
}

func (r *memRepo) DeleteOrder(_ context.Context, orderID int64) error {
	delete(r.orders, orderID)
	return nil
}

func (r *memRepo) PurgeRecordingOrders(_ context.Context, telegramID string) error {
	for id, order := range r.orders {
		if order.TelegramID == telegramID && order.Status == storage.StatusRecording {
			delete(r.orders, id)
		}
	}
	return nil
}

func (r *memRepo) ListOrders(_ context.Context) ([]storage.OrderWithUser, error) {
	var orders []storage.OrderWithUser
	for _, id := range r.orderSeq {
		order, ok := r.orders[id]
		if !ok {
			continue
		}
		row := storage.OrderWithUser{Order: *order}
		if user, ok := r.users[order.TelegramID]; ok {
			row.UserName = user.Name
			row.UserPhone = user.PhoneNumber
		}
		orders = append(orders, row)
	}
	return orders, nil
}

type fakeCatalog struct {
	items []api.PricedItem
	err   error
}

func (c *fakeCatalog) GetPrices(_ context.Context) ([]api.PricedItem, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.items, nil
}

type fakeReports struct {
	path string
	err  error
}

func (r *fakeReports) ExportOrdersToExcel(_ context.Context) (string, error) {
	return r.path, r.err
}

// --- helpers ---

type fixture struct {
	machine *Machine
	store   *memStore
	repo    *memRepo
	catalog *fakeCatalog
	reports *fakeReports
}

func newFixture() *fixture {
	store := newMemStore()
	repo := newMemRepo()
	catalog := &fakeCatalog{}
	reports := &fakeReports{path: "reports/test.xlsx"}
	return &fixture{
		machine: NewMachine(store, repo, catalog, reports, zap.NewNop()),
		store:   store,
		repo:    repo,
		catalog: catalog,
		reports: reports,
	}
}

func (f *fixture) seedUser(identity, name, phone string) {
	f.repo.nextUser++
	f.repo.users[identity] = &storage.User{
		ID:          f.repo.nextUser,
		TelegramID:  identity,
		Name:        name,
		PhoneNumber: phone,
		Height:      "180",
		Weight:      "75",
	}
}

func (f *fixture) seedAdmin(identity, name string) {
	f.repo.admins[identity] = &storage.Admin{ID: int64(len(f.repo.admins) + 1), TelegramID: identity, Name: name}
}

func (f *fixture) seedItems() {
	f.repo.items = []storage.Item{
		{Name: "Горный велосипед", Category: "BIKE", Subcategory: "MOUNTAIN", DurationValue: "2", DurationLabel: "2 часа", Price: "500"},
		{Name: "Горный велосипед", Category: "BIKE", Subcategory: "MOUNTAIN", DurationValue: "24", DurationLabel: "Сутки", Price: "1500"},
		{Name: "Городской велосипед", Category: "BIKE", Subcategory: "CITY", DurationValue: "2", DurationLabel: "2 часа (город)", Price: "300"},
		{Name: "Сапборд", Category: "SUP", Subcategory: "ALLROUND", DurationValue: "2", DurationLabel: "2 часа", Price: "700"},
	}
}

func textOf(t *testing.T, responses []Response) string {
	t.Helper()
	var parts []string
	for _, resp := range responses {
		parts = append(parts, resp.Text)
	}
	return strings.Join(parts, "\n---\n")
}

func responsesTo(responses []Response, identity string) []Response {
	var out []Response
	for _, resp := range responses {
		if resp.To == identity {
			out = append(out, resp)
		}
	}
	return out
}

// --- registration ---

func TestStartUnregisteredBeginsRegistration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "100", Command("start"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "мы с Вами не знакомы") {
		t.Errorf("expected registration greeting, got %q", got)
	}
	if got := textOf(t, responses); !strings.Contains(got, "Пример:") {
		t.Errorf("expected registration example, got %q", got)
	}

	session := f.store.sessions["100"]
	if session.Flow != FlowRegistration || session.Step != StepCollectFields {
		t.Errorf("unexpected session: %+v", session)
	}
}

func TestRegistrationCreatesUserAndClearsSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.machine.Handle(ctx, "100", Command("start")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	responses, err := f.machine.Handle(ctx, "100", Text("Иванов Иван Иванович\n+79020007126\n175\n80"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	user, ok := f.repo.users["100"]
	if !ok {
		t.Fatal("user was not created")
	}
	if user.Name != "Иванов Иван Иванович" || user.PhoneNumber != "+79020007126" {
		t.Errorf("unexpected user: %+v", user)
	}

	if got := textOf(t, responses); !strings.Contains(got, "Данные успешно сохранены") {
		t.Errorf("expected confirmation, got %q", got)
	}

	if session := f.store.sessions["100"]; !session.Idle() {
		t.Errorf("session not cleared: %+v", session)
	}
}

func TestRegistrationInvalidPayloadKeepsSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.machine.Handle(ctx, "100", Command("start"))

	responses, err := f.machine.Handle(ctx, "100", Text("Иванов Иван Иванович\n+79020007126"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "как показано в примере") {
		t.Errorf("expected correction prompt, got %q", got)
	}
	if _, ok := f.repo.users["100"]; ok {
		t.Error("user must not be created on invalid payload")
	}
	if session := f.store.sessions["100"]; session.Step != StepCollectFields {
		t.Errorf("session must stay on collect_fields: %+v", session)
	}
}

func TestStartIsIdempotentForRegisteredUser(t *testing.T) {
	f := newFixture()
	f.seedUser("100", "Иванов Иван Иванович", "+79020007126")
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "100", Command("start"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "Здравствуйте, Иванов Иван Иванович") {
		t.Errorf("expected greeting, got %q", got)
	}
	if !f.store.sessions["100"].Idle() {
		t.Error("no flow must start for a registered user")
	}
	if len(f.repo.users) != 1 {
		t.Errorf("expected single user record, got %d", len(f.repo.users))
	}
}

func TestStartResetsMidFlow(t *testing.T) {
	f := newFixture()
	f.seedUser("100", "Иванов Иван Иванович", "+79020007126")
	f.seedItems()
	ctx := context.Background()

	f.machine.Handle(ctx, "100", Button(btnBook))
	f.machine.Handle(ctx, "100", Button("BIKE"))

	responses, err := f.machine.Handle(ctx, "100", Command("start"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "Здравствуйте, Иванов Иван Иванович") {
		t.Errorf("expected greeting, got %q", got)
	}
	if !f.store.sessions["100"].Idle() {
		t.Error("start must reset an in-progress flow")
	}
	if f.repo.recordingOrder("100") != nil {
		t.Error("stale recording order must be purged on start")
	}
}

// --- global menu command ---

func TestMenuResetsMidFlowAndPurgesRecordingOrders(t *testing.T) {
	f := newFixture()
	f.seedUser("100", "Иванов Иван Иванович", "+79020007126")
	f.seedItems()
	ctx := context.Background()

	f.machine.Handle(ctx, "100", Button(btnBook))
	f.machine.Handle(ctx, "100", Button("BIKE"))

	if f.repo.recordingOrder("100") == nil {
		t.Fatal("expected a recording order mid-funnel")
	}

	responses, err := f.machine.Handle(ctx, "100", Command("menu"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if !f.store.sessions["100"].Idle() {
		t.Error("menu must reset the session")
	}
	if f.repo.recordingOrder("100") != nil {
		t.Error("stale recording order must be purged on menu")
	}
	if got := textOf(t, responses); !strings.Contains(got, "пункт из меню") {
		t.Errorf("expected menu, got %q", got)
	}
}

func TestMenuForAdmin(t *testing.T) {
	f := newFixture()
	f.seedAdmin("1", "Папа")
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "1", Command("menu"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "админ") {
		t.Errorf("expected admin menu, got %q", got)
	}
	if len(responses) == 0 || len(responses[0].Choices) == 0 {
		t.Fatal("admin menu must carry choices")
	}
}

// --- catch-all ---

func TestUnknownIdleInputFallsToCatchAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "100", Text("привет"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "/menu") {
		t.Errorf("expected /menu hint, got %q", got)
	}
	if !f.store.sessions["100"].Idle() {
		t.Error("session must stay idle")
	}
}

// --- store failures ---

func TestStoreUnavailableSurfacesFailure(t *testing.T) {
	f := newFixture()
	f.store.failing = true
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "100", Text("привет"))
	if err == nil {
		t.Fatal("expected error when the session store is down")
	}
	if got := textOf(t, responses); !strings.Contains(got, "Попробуйте повторить позднее") {
		t.Errorf("expected generic failure message, got %q", got)
	}
}

// --- admin actions ---

func TestAdminOrdersEmptyListShowsHeaderOnly(t *testing.T) {
	f := newFixture()
	f.seedAdmin("1", "Папа")
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "1", Button(btnOrders))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(responses) != 1 || responses[0].Text != orderListHeader {
		t.Errorf("expected bare header, got %+v", responses)
	}
}

func TestAdminActionsRejectedForNonAdmin(t *testing.T) {
	f := newFixture()
	f.seedUser("100", "Иванов Иван Иванович", "+79020007126")
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "100", Button(btnOrders))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := textOf(t, responses); !strings.Contains(got, "/menu") {
		t.Errorf("expected catch-all, got %q", got)
	}
}

func TestCatalogRefreshReplacesItems(t *testing.T) {
	f := newFixture()
	f.seedAdmin("1", "Папа")
	f.catalog.items = []api.PricedItem{
		{Name: "Сапборд", Category: "SUP", Subcategory: "ALLROUND", DurationValue: "2", DurationLabel: "2 часа", Price: "700", ExternalKey: "SUP:ALLROUND:2"},
	}
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "1", Button(btnRefresh))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.repo.items) != 1 || f.repo.items[0].Category != "SUP" {
		t.Errorf("items not replaced: %+v", f.repo.items)
	}
	if got := textOf(t, responses); !strings.Contains(got, "Каталог обновлён: 1") {
		t.Errorf("expected refresh confirmation, got %q", got)
	}
}

func TestCatalogRefreshFailureKeepsItems(t *testing.T) {
	f := newFixture()
	f.seedAdmin("1", "Папа")
	f.seedItems()
	f.catalog.err = errors.New("prices service down")
	before := len(f.repo.items)
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "1", Button(btnRefresh))
	if err != nil {
		t.Fatalf("ingestion failure must not bubble as handler error: %v", err)
	}

	if len(f.repo.items) != before {
		t.Error("item set must stay unchanged on ingestion failure")
	}
	if got := textOf(t, responses); !strings.Contains(got, "Не удалось обновить каталог") {
		t.Errorf("expected failure report, got %q", got)
	}
}

func TestAdminReportSendsDocument(t *testing.T) {
	f := newFixture()
	f.seedAdmin("1", "Папа")
	ctx := context.Background()

	responses, err := f.machine.Handle(ctx, "1", Button(btnReport))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(responses) != 1 || responses[0].File != "reports/test.xlsx" {
		t.Errorf("expected report document, got %+v", responses)
	}
}

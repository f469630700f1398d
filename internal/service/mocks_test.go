package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cartline/qnbpay-bridge/internal/cache"
	"github.com/cartline/qnbpay-bridge/internal/models"
	"github.com/cartline/qnbpay-bridge/internal/utils"
	"github.com/cartline/qnbpay-bridge/pkg/qnbpay"
)

// Common test errors
var (
	errMockTransport = errors.New("mock transport error")
)

const mockAppSecret = "9e8f7d6c5b4a39281706f5e4d3c2b1a0"

// mockGateway implements Gateway for testing.
type mockGateway struct {
	mu sync.Mutex

	GetTokenFunc    func(ctx context.Context) (string, error)
	GetPosFunc      func(ctx context.Context, token, cardBIN string, amount decimal.Decimal, currency string) (*qnbpay.PosResponse, error)
	CheckStatusFunc func(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error)

	TokenCalls       int
	CheckStatusCalls int
	LastInvoiceID    string
}

func newMockGateway() *mockGateway {
	return &mockGateway{}
}

func (m *mockGateway) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.TokenCalls++
	m.mu.Unlock()
	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx)
	}
	return "mock-token", nil
}

func (m *mockGateway) GetPos(ctx context.Context, token, cardBIN string, amount decimal.Decimal, currency string) (*qnbpay.PosResponse, error) {
	if m.GetPosFunc != nil {
		return m.GetPosFunc(ctx, token, cardBIN, amount, currency)
	}
	return &qnbpay.PosResponse{
		Data: []qnbpay.InstallmentOption{
			{InstallmentsNumber: 1},
			{InstallmentsNumber: 3},
			{InstallmentsNumber: 6},
		},
	}, nil
}

func (m *mockGateway) GetCommissions(ctx context.Context, token, currency string) (*qnbpay.CommissionResponse, error) {
	return &qnbpay.CommissionResponse{}, nil
}

func (m *mockGateway) CheckStatus(ctx context.Context, token, invoiceID string, includePending bool) (*qnbpay.StatusResponse, error) {
	m.mu.Lock()
	m.CheckStatusCalls++
	m.LastInvoiceID = invoiceID
	m.mu.Unlock()
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, token, invoiceID, includePending)
	}
	return &qnbpay.StatusResponse{StatusCode: qnbpay.StatusOK, MdStatus: 1}, nil
}

func (m *mockGateway) BuildChargeForm(req *qnbpay.ChargeRequest) *qnbpay.ChargeForm {
	return &qnbpay.ChargeForm{
		Action: "https://example.test/paySmart3D",
		Fields: []qnbpay.FormField{
			{Name: "invoice_id", Value: req.InvoiceID},
			{Name: "total", Value: req.Total},
			{Name: "hash_key", Value: req.HashKey},
		},
	}
}

func (m *mockGateway) MerchantKey() string { return "mock-merchant-key" }
func (m *mockGateway) AppSecret() string   { return mockAppSecret }

// mockOrderStore implements OrderStore with an in-memory order plus recorded
// status transitions and meta writes.
type mockOrderStore struct {
	mu sync.Mutex

	Order *models.Order
	Items []models.OrderItem
	Meta  map[string]string

	StatusUpdates []models.OrderStatus
	// CASWins scripts successive UpdateStatusIfNotPaid outcomes; empty means
	// always win.
	CASWins  []bool
	casCalls int
}

func newMockOrderStore(order *models.Order) *mockOrderStore {
	return &mockOrderStore{Order: order, Meta: map[string]string{}}
}

func (m *mockOrderStore) GetByID(orderID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Order == nil || m.Order.ID != orderID {
		return nil, sql.ErrNoRows
	}
	cp := *m.Order
	return &cp, nil
}

func (m *mockOrderStore) GetItems(orderID int64) ([]models.OrderItem, error) {
	return m.Items, nil
}

func (m *mockOrderStore) UpdateStatusIfNotPaid(orderID int64, status models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casCalls < len(m.CASWins) {
		won := m.CASWins[m.casCalls]
		m.casCalls++
		if won {
			m.Order.Status = status
			m.StatusUpdates = append(m.StatusUpdates, status)
		}
		return won, nil
	}
	m.casCalls++
	if m.Order.Status.IsPaid() {
		return false, nil
	}
	m.Order.Status = status
	m.StatusUpdates = append(m.StatusUpdates, status)
	return true, nil
}

func (m *mockOrderStore) UpdateStatus(orderID int64, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Order.Status = status
	m.StatusUpdates = append(m.StatusUpdates, status)
	return nil
}

func (m *mockOrderStore) SetMeta(orderID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Meta[key] = value
	return nil
}

func (m *mockOrderStore) GetMeta(orderID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Meta[key], nil
}

func (m *mockOrderStore) DeleteMeta(orderID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Meta, key)
	return nil
}

// mockInvoiceStore implements InvoiceStore.
type mockInvoiceStore struct {
	mu       sync.Mutex
	Mappings []*models.InvoiceMapping
	MintErr  error
	nextID   int64
}

func newMockInvoiceStore() *mockInvoiceStore {
	return &mockInvoiceStore{nextID: 1}
}

func (m *mockInvoiceStore) Mint(orderID int64, prefix string) (*models.InvoiceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MintErr != nil {
		return nil, m.MintErr
	}
	custom := int64(8823991204) + m.nextID
	mapping := &models.InvoiceMapping{
		ID:            m.nextID,
		OrderID:       orderID,
		CustomOrderID: custom,
		InvoiceID:     prefix + "_" + itoa(orderID) + "_" + itoa(custom),
	}
	m.nextID++
	m.Mappings = append(m.Mappings, mapping)
	return mapping, nil
}

func (m *mockInvoiceStore) GetByOrderID(orderID int64) (*models.InvoiceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Mappings) - 1; i >= 0; i-- {
		if m.Mappings[i].OrderID == orderID {
			return m.Mappings[i], nil
		}
	}
	return nil, utils.ErrMappingNotFound
}

func (m *mockInvoiceStore) GetByInvoiceID(invoiceID string) (*models.InvoiceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Mappings) - 1; i >= 0; i-- {
		if m.Mappings[i].InvoiceID == invoiceID {
			return m.Mappings[i], nil
		}
	}
	return nil, utils.ErrMappingNotFound
}

// mockTokenStore implements TokenStore in memory.
type mockTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
	Sets   int
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: map[string]string{}}
}

func (m *mockTokenStore) Get(ctx context.Context, merchantKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[merchantKey], nil
}

func (m *mockTokenStore) Set(ctx context.Context, merchantKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[merchantKey] = token
	m.Sets++
	return nil
}

// mockFormStore implements FormStore in memory.
type mockFormStore struct {
	mu    sync.Mutex
	forms map[int64]*cache.StoredForm
}

func newMockFormStore() *mockFormStore {
	return &mockFormStore{forms: map[int64]*cache.StoredForm{}}
}

func (m *mockFormStore) Set(ctx context.Context, form *cache.StoredForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forms[form.OrderID] = form
	return nil
}

func (m *mockFormStore) Get(ctx context.Context, orderID int64) (*cache.StoredForm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forms[orderID], nil
}

func (m *mockFormStore) Delete(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.forms, orderID)
	return nil
}

// mockLogStore implements logStore, recording appended entries.
type mockLogStore struct {
	mu      sync.Mutex
	Entries []models.TransactionLogEntry
}

func (m *mockLogStore) Append(entry *models.TransactionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, *entry)
	return nil
}

func (m *mockLogStore) ListByOrder(orderID int64, limit int) ([]models.TransactionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TransactionLogEntry
	for _, e := range m.Entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockLogStore) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = nil
	return nil
}

func (m *mockLogStore) actions() []models.LogAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LogAction, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.Action)
	}
	return out
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

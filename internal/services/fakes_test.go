package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeynil/saukimart/internal/gateway/delivery"
	"github.com/honeynil/saukimart/internal/gateway/payment"
	"github.com/honeynil/saukimart/internal/models"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"github.com/stretchr/testify/mock"
)

// memoryTransactions is an in-memory TransactionRepository with the same
// compare-and-swap semantics as the Postgres one.
type memoryTransactions struct {
	mu     sync.Mutex
	nextID int64
	byRef  map[string]*models.Transaction

	refLookups, idLookups atomic.Int32
}

func newMemoryTransactions() *memoryTransactions {
	return &memoryTransactions{byRef: make(map[string]*models.Transaction)}
}

func (m *memoryTransactions) Create(_ context.Context, tx *models.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[tx.TxRef]; ok {
		return 0, pkgerrors.ErrTransactionExists
	}
	m.nextID++
	stored := *tx
	stored.ID = m.nextID
	stored.CreatedAt = time.Now()
	m.byRef[tx.TxRef] = &stored
	return stored.ID, nil
}

func (m *memoryTransactions) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	m.idLookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.byRef {
		if tx.ID == id {
			c := *tx
			return &c, nil
		}
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (m *memoryTransactions) GetByRef(_ context.Context, txRef string) (*models.Transaction, error) {
	m.refLookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byRef[txRef]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	c := *tx
	return &c, nil
}

func (m *memoryTransactions) ListByPhone(_ context.Context, phone string, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.byRef {
		if tx.Phone == phone {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryTransactions) UpdateStatus(_ context.Context, id int64, from []models.StatusType, to models.StatusType, audit models.AuditFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.byRef {
		if tx.ID != id {
			continue
		}
		for _, s := range from {
			if tx.Status == s {
				tx.Status = to
				if audit.PaymentData != nil {
					tx.PaymentData = audit.PaymentData
				}
				if audit.DeliveryData != nil {
					tx.DeliveryData = audit.DeliveryData
				}
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func (m *memoryTransactions) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.byRef))
	m.byRef = make(map[string]*models.Transaction)
	return n, nil
}

func (m *memoryTransactions) seed(tx models.Transaction) *models.Transaction {
	id, _ := m.Create(context.Background(), &tx)
	tx.ID = id
	return &tx
}

func (m *memoryTransactions) status(txRef string) models.StatusType {
	tx, err := m.GetByRef(context.Background(), txRef)
	if err != nil {
		return ""
	}
	return tx.Status
}

type staticCatalog struct {
	plans    map[int64]models.DataPlan
	products map[int64]models.Product
}

func (c staticCatalog) GetPlan(_ context.Context, id int64) (*models.DataPlan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, pkgerrors.ErrPlanNotFound
	}
	return &p, nil
}

func (c staticCatalog) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, pkgerrors.ErrProductNotFound
	}
	return &p, nil
}

var (
	mtn1GB = models.DataPlan{ID: 1, Network: models.NetworkMTN, DataAmount: "1GB", Validity: "30 days", Price: 300, ProviderPlanID: 1001}
	router = models.Product{ID: 7, Name: "4G Router", Price: 25000, InStock: true}
)

func testCatalog() staticCatalog {
	return staticCatalog{
		plans:    map[int64]models.DataPlan{mtn1GB.ID: mtn1GB},
		products: map[int64]models.Product{router.ID: router},
	}
}

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) InitiateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*payment.ChargeResult)
	return res, args.Error(1)
}

func (m *mockPayments) VerifyCharge(ctx context.Context, txRef string, expected int64) payment.Verification {
	args := m.Called(ctx, txRef, expected)
	return args.Get(0).(payment.Verification)
}

func (m *mockPayments) VerifySignature(signature string) bool {
	return m.Called(signature).Bool(0)
}

// scriptedDelivery answers each Deliver call with the next scripted body and
// counts calls. An optional gate holds every call until it is closed.
type scriptedDelivery struct {
	mu        sync.Mutex
	responses []delivery.Result
	calls     atomic.Int32
	payloads  []any
	keys      []string
	gate      chan struct{}
}

func deliverOK(body string) delivery.Result {
	return delivery.Result{Success: true, Body: json.RawMessage(body), HTTPStatus: 200}
}

func deliverFail(status int, body string) delivery.Result {
	return delivery.Result{Body: json.RawMessage(body), HTTPStatus: status}
}

func (d *scriptedDelivery) Deliver(ctx context.Context, endpoint string, payload any, key string) (delivery.Result, error) {
	d.calls.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return delivery.Result{}, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	d.keys = append(d.keys, key)
	if len(d.responses) == 0 {
		return deliverFail(0, `{"error":"no scripted response"}`), nil
	}
	res := d.responses[0]
	if len(d.responses) > 1 {
		d.responses = d.responses[1:]
	}
	return res, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []statusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, value []byte) error {
	var ev statusEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) has(to models.StatusType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.To == to {
			return true
		}
	}
	return false
}

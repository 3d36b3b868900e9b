package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/saukimart/internal/infrastructure/redis/redistest"
	"github.com/honeynil/saukimart/internal/models"
	service "github.com/honeynil/saukimart/internal/services"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Confirm(ctx context.Context, txRef string, trigger service.Trigger) (*models.Transaction, error) {
	args := m.Called(ctx, txRef, trigger)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *mockReconciler) HandleWebhook(ctx context.Context, signature string, body []byte) (*models.Transaction, error) {
	args := m.Called(ctx, signature, body)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *mockReconciler) RetryDelivery(ctx context.Context, txRef string) (*models.Transaction, error) {
	args := m.Called(ctx, txRef)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *mockReconciler) ManualTopup(ctx context.Context, phone string, planID, amount int64) (*models.Transaction, error) {
	args := m.Called(ctx, phone, planID, amount)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

type mockCheckout struct{ mock.Mock }

func (m *mockCheckout) InitiateDataPurchase(ctx context.Context, planID int64, phone string) (*models.PaymentInstructions, error) {
	args := m.Called(ctx, planID, phone)
	p, _ := args.Get(0).(*models.PaymentInstructions)
	return p, args.Error(1)
}

func (m *mockCheckout) InitiateProductPurchase(ctx context.Context, order service.ProductOrder) (*models.PaymentInstructions, error) {
	args := m.Called(ctx, order)
	p, _ := args.Get(0).(*models.PaymentInstructions)
	return p, args.Error(1)
}

func (m *mockCheckout) Track(ctx context.Context, phone string) ([]models.Transaction, error) {
	args := m.Called(ctx, phone)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) Login(ctx context.Context, password, clientKey string) (*service.Session, error) {
	args := m.Called(ctx, password, clientKey)
	s, _ := args.Get(0).(*service.Session)
	return s, args.Error(1)
}

func (m *mockAdmin) Logout(ctx context.Context, jti string) error {
	return m.Called(ctx, jti).Error(0)
}

func (m *mockAdmin) Authorize(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *mockAdmin) ConsoleSend(ctx context.Context, endpoint string, payload json.RawMessage, persist bool) (*service.ConsoleResult, error) {
	args := m.Called(ctx, endpoint, payload, persist)
	r, _ := args.Get(0).(*service.ConsoleResult)
	return r, args.Error(1)
}

func (m *mockAdmin) WipeTransactions(ctx context.Context, confirmed bool) (int64, error) {
	args := m.Called(ctx, confirmed)
	return args.Get(0).(int64), args.Error(1)
}

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) ListPlans(ctx context.Context) ([]models.DataPlan, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]models.DataPlan)
	return p, args.Error(1)
}

func (m *mockCatalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]models.Product)
	return p, args.Error(1)
}

func (m *mockCatalog) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockAnnouncements struct{ mock.Mock }

func (m *mockAnnouncements) Current(ctx context.Context) models.Announcement {
	return m.Called(ctx).Get(0).(models.Announcement)
}

func (m *mockAnnouncements) Publish(ctx context.Context, message string, active bool) (*models.Announcement, error) {
	args := m.Called(ctx, message, active)
	a, _ := args.Get(0).(*models.Announcement)
	return a, args.Error(1)
}

type fixture struct {
	reconciler *mockReconciler
	checkout   *mockCheckout
	admin      *mockAdmin
	catalog    *mockCatalog
	notices    *mockAnnouncements
	handler    *Handler
	router     *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reconciler: &mockReconciler{},
		checkout:   &mockCheckout{},
		admin:      &mockAdmin{},
		catalog:    &mockCatalog{},
		notices:    &mockAnnouncements{},
	}
	f.handler = NewHandler(f.reconciler, f.checkout, f.admin, f.catalog, f.notices)
	f.router = newRouter(f.handler)

	t.Cleanup(func() {
		f.reconciler.AssertExpectations(t)
		f.checkout.AssertExpectations(t)
		f.admin.AssertExpectations(t)
		f.catalog.AssertExpectations(t)
		f.notices.AssertExpectations(t)
	})
	return f
}

func newRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	h.RegisterPublicRoutes(api)
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.AdminAuth)
	h.RegisterAdminRoutes(admin)
	return router
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) authorized() map[string]string {
	f.admin.On("Authorize", mock.Anything, "good-token").Return("jti-1", nil)
	return map[string]string{"Authorization": "Bearer good-token"}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pkgerrors.ErrTransactionNotFound, http.StatusNotFound},
		{pkgerrors.ErrPlanNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: declined", pkgerrors.ErrPaymentInit), http.StatusBadGateway},
		{pkgerrors.ErrInvalidSignature, http.StatusUnauthorized},
		{pkgerrors.ErrSessionExpired, http.StatusUnauthorized},
		{pkgerrors.ErrTooManyAttempts, http.StatusTooManyRequests},
		{pkgerrors.ErrInvalidInput, http.StatusBadRequest},
		{pkgerrors.ErrWipeNotConfirmed, http.StatusBadRequest},
		{pkgerrors.ErrTransactionExists, http.StatusConflict},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHandler_InitiateDataPayment(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.checkout.On("InitiateDataPurchase", mock.Anything, int64(1), "08011111111").Return(&models.PaymentInstructions{
			TxRef: "SAUKI-DATA-1", BankName: "WEMA BANK", AccountNumber: "7820000001", AccountName: "SAUKI MART", Amount: 300,
		}, nil).Once()

		rec := f.do(http.MethodPost, "/api/data/initiate-payment", `{"planId":1,"phone":"08011111111"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"tx_ref":"SAUKI-DATA-1","bank":"WEMA BANK","account_number":"7820000001","account_name":"SAUKI MART","amount":300}`, rec.Body.String())
	})

	t.Run("unknown plan", func(t *testing.T) {
		f := newFixture(t)
		f.checkout.On("InitiateDataPurchase", mock.Anything, int64(9), "0801").Return(nil, pkgerrors.ErrPlanNotFound).Once()

		rec := f.do(http.MethodPost, "/api/data/initiate-payment", `{"planId":9,"phone":"0801"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("processor failure", func(t *testing.T) {
		f := newFixture(t)
		f.checkout.On("InitiateDataPurchase", mock.Anything, int64(1), "0801").
			Return(nil, fmt.Errorf("%w: Invalid merchant", pkgerrors.ErrPaymentInit)).Once()

		rec := f.do(http.MethodPost, "/api/data/initiate-payment", `{"planId":1,"phone":"0801"}`, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, decodeError(t, rec), "Invalid merchant")
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/data/initiate-payment", `{"planId":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing plan", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/data/initiate-payment", `{"phone":"0801"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_InitiateProductPayment(t *testing.T) {
	f := newFixture(t)
	f.checkout.On("InitiateProductPurchase", mock.Anything, service.ProductOrder{
		ProductID: 7, Phone: "0802", CustomerName: "Amina Bello", State: "Kano",
	}).Return(&models.PaymentInstructions{TxRef: "SAUKI-COMM-1", Amount: 25000}, nil).Once()

	rec := f.do(http.MethodPost, "/api/ecommerce/initiate-payment", `{"productId":7,"phone":"0802","name":"Amina Bello","state":"Kano"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tx_ref":"SAUKI-COMM-1"`)
}

func TestHandler_VerifyTransaction(t *testing.T) {
	t.Run("returns stored status", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("Confirm", mock.Anything, "SAUKI-DATA-1", service.TriggerVerify).
			Return(&models.Transaction{TxRef: "SAUKI-DATA-1", Status: models.StatusDelivered}, nil).Once()

		rec := f.do(http.MethodPost, "/api/transactions/verify", `{"tx_ref":"SAUKI-DATA-1"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"tx_ref":"SAUKI-DATA-1","status":"delivered"}`, rec.Body.String())
	})

	t.Run("accepts txRef", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("Confirm", mock.Anything, "SAUKI-DATA-2", service.TriggerVerify).
			Return(&models.Transaction{TxRef: "SAUKI-DATA-2", Status: models.StatusPending}, nil).Once()

		rec := f.do(http.MethodPost, "/api/transactions/verify", `{"txRef":"SAUKI-DATA-2"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("Confirm", mock.Anything, "nope", service.TriggerVerify).Return(nil, pkgerrors.ErrTransactionNotFound).Once()

		rec := f.do(http.MethodPost, "/api/transactions/verify", `{"tx_ref":"nope"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing reference", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/transactions/verify", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_TrackTransactions(t *testing.T) {
	f := newFixture(t)
	f.checkout.On("Track", mock.Anything, "08011111111").Return([]models.Transaction{
		{TxRef: "SAUKI-DATA-1", Status: models.StatusPaid, CreatedAt: time.Unix(0, 0).UTC()},
	}, nil).Once()
	f.checkout.On("Track", mock.Anything, "0809").Return(nil, nil).Once()

	rec := f.do(http.MethodGet, "/api/transactions/track?phone=08011111111", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SAUKI-DATA-1")

	rec = f.do(http.MethodGet, "/api/transactions/track?phone=0809", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_FlutterwaveWebhook(t *testing.T) {
	body := `{"event":"charge.completed","data":{"tx_ref":"SAUKI-DATA-1","status":"successful"}}`

	t.Run("passes signature and raw body", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("HandleWebhook", mock.Anything, "whsec", []byte(body)).
			Return(&models.Transaction{TxRef: "SAUKI-DATA-1", Status: models.StatusDelivered}, nil).Once()

		rec := f.do(http.MethodPost, "/api/webhook/flutterwave", body, map[string]string{"verif-hash": "whsec"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("HandleWebhook", mock.Anything, "", []byte(body)).Return(nil, pkgerrors.ErrInvalidSignature).Once()

		rec := f.do(http.MethodPost, "/api/webhook/flutterwave", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ignored status", func(t *testing.T) {
		f := newFixture(t)
		f.reconciler.On("HandleWebhook", mock.Anything, "whsec", mock.Anything).Return(nil, nil).Once()

		rec := f.do(http.MethodPost, "/api/webhook/flutterwave", `{"data":{"tx_ref":"x","status":"pending"}}`, map[string]string{"verif-hash": "whsec"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	})

	t.Run("oversized body", func(t *testing.T) {
		f := newFixture(t)

		big := bytes.Repeat([]byte("a"), maxBodyBytes+1)
		rec := f.do(http.MethodPost, "/api/webhook/flutterwave", string(big), map[string]string{"verif-hash": "whsec"})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestHandler_AdminLogin(t *testing.T) {
	t.Run("issues session", func(t *testing.T) {
		f := newFixture(t)
		expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		f.admin.On("Login", mock.Anything, "secret", "192.0.2.1").
			Return(&service.Session{Token: "tok", ExpiresAt: expires}, nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/auth", `{"password":"secret"}`, map[string]string{"X-Forwarded-For": "203.0.113.9"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"token":"tok","expires_at":"2026-01-01T12:00:00Z"}`, rec.Body.String())
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.admin.On("Login", mock.Anything, "bad", "192.0.2.1").Return(nil, pkgerrors.ErrInvalidCredentials).Once()

		rec := f.do(http.MethodPost, "/api/admin/auth", `{"password":"bad"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("client behind trusted proxy", func(t *testing.T) {
		f := newFixture(t)
		f.handler.TrustProxies([]netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")})
		f.admin.On("Login", mock.Anything, "bad", "203.0.113.9").Return(nil, pkgerrors.ErrInvalidCredentials).Once()

		rec := f.do(http.MethodPost, "/api/admin/auth", `{"password":"bad"}`, map[string]string{"X-Forwarded-For": "203.0.113.9"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.admin.On("Login", mock.Anything, "bad", mock.Anything).Return(nil, pkgerrors.ErrTooManyAttempts).Once()

		rec := f.do(http.MethodPost, "/api/admin/auth", `{"password":"bad"}`, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestHandler_ClientKey(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil)
	h.TrustProxies([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	})

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "direct caller ignores header", remoteAddr: "203.0.113.9:4100", forwarded: "198.51.100.1", want: "203.0.113.9"},
		{name: "trusted proxy", remoteAddr: "10.0.0.2:4100", forwarded: "198.51.100.1", want: "198.51.100.1"},
		{name: "spoofed left-most hop", remoteAddr: "10.0.0.2:4100", forwarded: "1.2.3.4, 198.51.100.1", want: "198.51.100.1"},
		{name: "proxy chain", remoteAddr: "10.0.0.2:4100", forwarded: "198.51.100.1, 10.1.1.1", want: "198.51.100.1"},
		{name: "garbage hop", remoteAddr: "10.0.0.2:4100", forwarded: "not-an-ip", want: "10.0.0.2"},
		{name: "no header", remoteAddr: "10.0.0.2:4100", want: "10.0.0.2"},
		{name: "ipv6 proxy", remoteAddr: "[2001:db8::1]:4100", forwarded: "198.51.100.7", want: "198.51.100.7"},
		{name: "unparsable remote", remoteAddr: "pipe", forwarded: "198.51.100.1", want: "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/auth", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, h.clientKey(req))
		})
	}
}

func TestHandler_AdminLoginIgnoresRotatedForwardedFor(t *testing.T) {
	admin, err := service.NewAdminService(service.AdminConfig{
		Password:  "correct horse",
		JWTSecret: "test-secret",
	}, redistest.New(), nil, nil, nil)
	require.NoError(t, err)
	router := newRouter(NewHandler(&mockReconciler{}, &mockCheckout{}, admin, &mockCatalog{}, &mockAnnouncements{}))

	counts := map[int]int{}
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/auth", bytes.NewBufferString(`{"password":"guess"}`))
		req.RemoteAddr = "203.0.113.9:51000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		counts[rec.Code]++
	}

	assert.Equal(t, 5, counts[http.StatusUnauthorized])
	assert.Equal(t, 15, counts[http.StatusTooManyRequests])
}

func TestHandler_Catalog(t *testing.T) {
	t.Run("data plans", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.On("ListPlans", mock.Anything).Return([]models.DataPlan{
			{ID: 1, Network: models.NetworkMTN, DataAmount: "1GB", Validity: "30 days", Price: 300, ProviderPlanID: 1001},
		}, nil).Once()

		rec := f.do(http.MethodGet, "/api/data-plans", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"id":1,"network":"MTN","data":"1GB","validity":"30 days","price":300,"plan_id":1001}]`, rec.Body.String())
	})

	t.Run("empty products", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.On("ListProducts", mock.Anything).Return(nil, nil).Once()

		rec := f.do(http.MethodGet, "/api/products", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.On("ListPlans", mock.Anything).Return(nil, fmt.Errorf("failed to list plans: %w", context.DeadlineExceeded)).Once()

		rec := f.do(http.MethodGet, "/api/data-plans", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal server error", decodeError(t, rec))
	})
}

func TestHandler_Announcement(t *testing.T) {
	t.Run("public read", func(t *testing.T) {
		f := newFixture(t)
		f.notices.On("Current", mock.Anything).Return(models.Announcement{}).Once()

		rec := f.do(http.MethodGet, "/api/system/announcement", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"isActive":false`)
	})

	t.Run("publish requires admin", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/admin/announcement", `{"message":"x","isActive":true}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("publish", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.notices.On("Publish", mock.Anything, "MTN delays", true).
			Return(&models.Announcement{Message: "MTN delays", IsActive: true}, nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/announcement", `{"message":"MTN delays","isActive":true}`, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"announcement":"MTN delays"`)
	})

	t.Run("publish invalid", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.notices.On("Publish", mock.Anything, "", true).Return(nil, pkgerrors.ErrInvalidInput).Once()

		rec := f.do(http.MethodPost, "/api/admin/announcement", `{"isActive":true}`, headers)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_AdminAuth(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/admin/manual-topup", `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(http.MethodPost, "/api/admin/manual-topup", `{}`, map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revoked session", func(t *testing.T) {
		f := newFixture(t)
		f.admin.On("Authorize", mock.Anything, "old").Return("", pkgerrors.ErrSessionExpired).Once()

		rec := f.do(http.MethodPost, "/api/admin/manual-topup", `{}`, map[string]string{"Authorization": "Bearer old"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_AdminRoutes(t *testing.T) {
	t.Run("manual topup", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.reconciler.On("ManualTopup", mock.Anything, "0803", int64(1), int64(0)).
			Return(&models.Transaction{TxRef: "ADMIN-MANUAL-12345678", Status: models.StatusDelivered}, nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/manual-topup", `{"phone":"0803","planId":1}`, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ADMIN-MANUAL-12345678")
	})

	t.Run("retry delivery", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.reconciler.On("RetryDelivery", mock.Anything, "SAUKI-DATA-1").
			Return(&models.Transaction{TxRef: "SAUKI-DATA-1", Status: models.StatusPaid}, nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/retry-delivery", `{"tx_ref":"SAUKI-DATA-1"}`, headers)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("console", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.admin.On("ConsoleSend", mock.Anything, "data", json.RawMessage(`{"plan":1}`), true).
			Return(&service.ConsoleResult{Reference: "CONSOLE-1", Success: true, HTTPStatus: 200, Response: json.RawMessage(`{}`)}, nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/console", `{"endpoint":"data","payload":{"plan":1},"persist":true}`, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "CONSOLE-1")
	})

	t.Run("logout", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.admin.On("Logout", mock.Anything, "jti-1").Return(nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/logout", "", headers)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("catalog invalidate", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.catalog.On("Invalidate", mock.Anything).Return(nil).Once()

		rec := f.do(http.MethodPost, "/api/admin/catalog/invalidate", "", headers)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("wipe requires confirmation header", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		f.admin.On("WipeTransactions", mock.Anything, false).Return(int64(0), pkgerrors.ErrWipeNotConfirmed).Once()

		rec := f.do(http.MethodDelete, "/api/admin/transactions", "", headers)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wipe confirmed", func(t *testing.T) {
		f := newFixture(t)
		headers := f.authorized()
		headers["X-Confirm-Wipe"] = "yes"
		f.admin.On("WipeTransactions", mock.Anything, true).Return(int64(12), nil).Once()

		rec := f.do(http.MethodDelete, "/api/admin/transactions", "", headers)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"deleted":12}`, rec.Body.String())
	})
}

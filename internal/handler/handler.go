package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/mux"
	"github.com/honeynil/saukimart/internal/models"
	service "github.com/honeynil/saukimart/internal/services"
	pkgerrors "github.com/honeynil/saukimart/pkg/errors"
)

const (
	maxBodyBytes        = 1 << 20
	signatureHeader     = "verif-hash"
	confirmWipeHeader   = "X-Confirm-Wipe"
	confirmWipeExpected = "yes"
)

type Reconciler interface {
	Confirm(ctx context.Context, txRef string, trigger service.Trigger) (*models.Transaction, error)
	HandleWebhook(ctx context.Context, signature string, body []byte) (*models.Transaction, error)
	RetryDelivery(ctx context.Context, txRef string) (*models.Transaction, error)
	ManualTopup(ctx context.Context, phone string, planID, amount int64) (*models.Transaction, error)
}

type Checkout interface {
	InitiateDataPurchase(ctx context.Context, planID int64, phone string) (*models.PaymentInstructions, error)
	InitiateProductPurchase(ctx context.Context, order service.ProductOrder) (*models.PaymentInstructions, error)
	Track(ctx context.Context, phone string) ([]models.Transaction, error)
}

type Admin interface {
	Login(ctx context.Context, password, clientKey string) (*service.Session, error)
	Logout(ctx context.Context, jti string) error
	Authorize(ctx context.Context, token string) (string, error)
	ConsoleSend(ctx context.Context, endpoint string, payload json.RawMessage, persist bool) (*service.ConsoleResult, error)
	WipeTransactions(ctx context.Context, confirmed bool) (int64, error)
}

type Catalog interface {
	ListPlans(ctx context.Context) ([]models.DataPlan, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	Invalidate(ctx context.Context) error
}

type Announcements interface {
	Current(ctx context.Context) models.Announcement
	Publish(ctx context.Context, message string, active bool) (*models.Announcement, error)
}

type Handler struct {
	reconciler     Reconciler
	checkout       Checkout
	admin          Admin
	catalog        Catalog
	announcements  Announcements
	trustedProxies []netip.Prefix
}

func NewHandler(reconciler Reconciler, checkout Checkout, admin Admin, catalog Catalog, announcements Announcements) *Handler {
	return &Handler{
		reconciler:    reconciler,
		checkout:      checkout,
		admin:         admin,
		catalog:       catalog,
		announcements: announcements,
	}
}

// TrustProxies makes the handler honour X-Forwarded-For on requests whose
// peer address falls in one of prefixes.
func (h *Handler) TrustProxies(prefixes []netip.Prefix) {
	h.trustedProxies = prefixes
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrPaymentInit):
		return http.StatusBadGateway
	case errors.Is(err, pkgerrors.ErrTransactionExists):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrWipeNotConfirmed),
		errors.Is(err, pkgerrors.ErrInvalidTransactionType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.writeError(w, statusFor(err), err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("malformed JSON body"))
		return false
	}
	return true
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/data-plans", h.ListDataPlans).Methods(http.MethodGet)
	r.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	r.HandleFunc("/system/announcement", h.GetAnnouncement).Methods(http.MethodGet)
	r.HandleFunc("/data/initiate-payment", h.InitiateDataPayment).Methods(http.MethodPost)
	r.HandleFunc("/ecommerce/initiate-payment", h.InitiateProductPayment).Methods(http.MethodPost)
	r.HandleFunc("/transactions/verify", h.VerifyTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/track", h.TrackTransactions).Methods(http.MethodGet)
	r.HandleFunc("/webhook/flutterwave", h.FlutterwaveWebhook).Methods(http.MethodPost)
	r.HandleFunc("/admin/auth", h.AdminLogin).Methods(http.MethodPost)
}

// RegisterAdminRoutes mounts operator endpoints; r must carry AdminAuth.
func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/logout", h.AdminLogout).Methods(http.MethodPost)
	r.HandleFunc("/manual-topup", h.ManualTopup).Methods(http.MethodPost)
	r.HandleFunc("/retry-delivery", h.RetryDelivery).Methods(http.MethodPost)
	r.HandleFunc("/console", h.Console).Methods(http.MethodPost)
	r.HandleFunc("/catalog/invalidate", h.InvalidateCatalog).Methods(http.MethodPost)
	r.HandleFunc("/announcement", h.PublishAnnouncement).Methods(http.MethodPost)
	r.HandleFunc("/transactions", h.WipeTransactions).Methods(http.MethodDelete)
}

func (h *Handler) ListDataPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListPlans(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if plans == nil {
		plans = []models.DataPlan{}
	}
	h.writeJSON(w, http.StatusOK, plans)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.announcements.Current(r.Context()))
}

func (h *Handler) InitiateDataPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID int64  `json:"planId"`
		Phone  string `json:"phone"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlanID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("planId is required"))
		return
	}

	instr, err := h.checkout.InitiateDataPurchase(r.Context(), req.PlanID, req.Phone)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, instr)
}

func (h *Handler) InitiateProductPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int64  `json:"productId"`
		Phone     string `json:"phone"`
		Name      string `json:"name"`
		State     string `json:"state"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("productId is required"))
		return
	}

	instr, err := h.checkout.InitiateProductPurchase(r.Context(), service.ProductOrder{
		ProductID:    req.ProductID,
		Phone:        req.Phone,
		CustomerName: req.Name,
		State:        req.State,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, instr)
}

type statusResponse struct {
	TxRef  string            `json:"tx_ref"`
	Status models.StatusType `json:"status"`
}

func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxRef    string `json:"tx_ref"`
		TxRefAlt string `json:"txRef"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	txRef := req.TxRef
	if txRef == "" {
		txRef = req.TxRefAlt
	}
	if txRef == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("tx_ref is required"))
		return
	}

	tx, err := h.reconciler.Confirm(r.Context(), txRef, service.TriggerVerify)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{TxRef: tx.TxRef, Status: tx.Status})
}

func (h *Handler) TrackTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.checkout.Track(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) FlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, errors.New("webhook body too large"))
		return
	}

	tx, err := h.reconciler.HandleWebhook(r.Context(), r.Header.Get(signatureHeader), body)
	if err != nil {
		h.fail(w, err)
		return
	}
	if tx == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{TxRef: tx.TxRef, Status: tx.Status})
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.admin.Login(r.Context(), req.Password, h.clientKey(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) AdminLogout(w http.ResponseWriter, r *http.Request) {
	jti, _ := r.Context().Value(sessionIDKey{}).(string)
	if err := h.admin.Logout(r.Context(), jti); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ManualTopup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone  string `json:"phone"`
		PlanID int64  `json:"planId"`
		Amount int64  `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.reconciler.ManualTopup(r.Context(), req.Phone, req.PlanID, req.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxRef string `json:"tx_ref"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.TxRef == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("tx_ref is required"))
		return
	}

	tx, err := h.reconciler.RetryDelivery(r.Context(), req.TxRef)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) Console(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string          `json:"endpoint"`
		Payload  json.RawMessage `json:"payload"`
		Persist  bool            `json:"persist"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	res, err := h.admin.ConsoleSend(r.Context(), req.Endpoint, req.Payload, req.Persist)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Invalidate(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PublishAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message  string `json:"message"`
		IsActive bool   `json:"isActive"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.announcements.Publish(r.Context(), req.Message, req.IsActive)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) WipeTransactions(w http.ResponseWriter, r *http.Request) {
	confirmed := strings.EqualFold(r.Header.Get(confirmWipeHeader), confirmWipeExpected)
	n, err := h.admin.WipeTransactions(r.Context(), confirmed)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-holds/internal/checkout"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Checkouter interface {
	Checkout(ctx context.Context, userRef string, lines []checkout.Line) (orders.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, id int64) (orders.Order, error)
	ListByUser(ctx context.Context, userRef string) ([]orders.Order, error)
	ListAll(ctx context.Context) ([]orders.Order, error)
	Confirm(ctx context.Context, id int64) (orders.Order, error)
	Cancel(ctx context.Context, id int64) (orders.Order, error)
}

type OrderCache interface {
	Fetch(ctx context.Context, id int64, load func(context.Context, int64) (orders.Order, error)) (orders.Order, error)
}

type Idempotency interface {
	Begin(ctx context.Context, userRef, key string) (prior int64, fresh bool, err error)
	Complete(ctx context.Context, userRef, key string, orderID int64) error
	Abort(ctx context.Context, userRef, key string) error
}

// OrdersHandler serves the order endpoints. Cache and Idem are optional.
type OrdersHandler struct {
	Checkout Checkouter
	Orders   OrderService
	Cache    OrderCache
	Idem     Idempotency
	Log      *zap.Logger
}

type orderResp struct {
	orders.Order
	Note string `json:"note,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/checkout", h.checkout)
		r.Get("/my-orders", h.myOrders)
		r.With(RequireRole(RoleAdmin, RoleCoAdmin)).Get("/all", h.allOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/confirm/{id}", h.confirm)
		r.Post("/cancel/{id}", h.cancel)
	})
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var lines []checkout.Line
	if err := json.NewDecoder(r.Body).Decode(&lines); err != nil {
		badRequest(w, "invalid json: expected an array of {sku, quantity}")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = orders.WithTraceID(ctx, middleware.GetReqID(r.Context()))

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.Idem != nil {
		prior, fresh, err := h.Idem.Begin(ctx, id.UserRef, key)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if !fresh {
			o, err := h.Orders.Get(ctx, prior)
			if err != nil {
				writeError(w, h.Log, err)
				return
			}
			writeJSON(w, http.StatusOK, o)
			return
		}
	} else {
		key = ""
	}

	o, err := h.Checkout.Checkout(ctx, id.UserRef, lines)
	if err != nil {
		if key != "" {
			_ = h.Idem.Abort(context.WithoutCancel(ctx), id.UserRef, key)
		}
		writeError(w, h.Log, err)
		return
	}
	if key != "" {
		h.recordIdempotent(context.WithoutCancel(ctx), id.UserRef, key, o.ID)
	}
	writeJSON(w, http.StatusCreated, o)
}

const completeAttempts = 3

// recordIdempotent binds key to the placed order. Until it succeeds the key
// only holds its short-lived pending marker.
func (h *OrdersHandler) recordIdempotent(ctx context.Context, userRef, key string, orderID int64) {
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = h.Idem.Complete(ctx, userRef, key, orderID); err == nil {
			return
		}
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
	}
	h.Log.Error("idempotency key not recorded; a retry after the pending marker lapses will place a second order",
		zap.String("userRef", userRef),
		zap.String("idempotencyKey", key),
		zap.Int64("orderId", orderID),
		zap.Int("attempts", completeAttempts),
		zap.Error(err))
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListByUser(ctx, id.UserRef)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *OrdersHandler) allOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListAll(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		o   orders.Order
		err error
	)
	if h.Cache != nil {
		o, err = h.Cache.Fetch(ctx, orderID, h.Orders.Get)
	} else {
		o, err = h.Orders.Get(ctx, orderID)
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if caller, _ := IdentityFrom(r.Context()); o.UserRef != caller.UserRef && !caller.Staff() {
		writeError(w, h.Log, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Orders.Confirm)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Orders.Cancel)
}

// transition runs an owner-only state change and reports repeats on a
// finished order as a successful no-op.
func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) (orders.Order, error)) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = orders.WithTraceID(ctx, middleware.GetReqID(r.Context()))

	cur, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if caller, _ := IdentityFrom(r.Context()); cur.UserRef != caller.UserRef {
		writeError(w, h.Log, errForbidden)
		return
	}

	o, err := apply(ctx, orderID)
	switch {
	case errors.Is(err, orders.ErrAlreadyFinalized):
		writeJSON(w, http.StatusOK, orderResp{Order: o, Note: "already processed"})
	case err != nil:
		writeError(w, h.Log, err)
	default:
		writeJSON(w, http.StatusOK, orderResp{Order: o})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid order id")
		return 0, false
	}
	return id, true
}

func nonNil(list []orders.Order) []orders.Order {
	if list == nil {
		return []orders.Order{}
	}
	return list
}

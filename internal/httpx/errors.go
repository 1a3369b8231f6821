package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
	"github.com/ariefcatur/go-stock-holds/internal/redisx"
)

var errForbidden = errors.New("forbidden")

type errorBody struct {
	Error string `json:"error"`
	SKU   string `json:"sku,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP. Unexpected errors are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ise *inventory.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, errorBody{Error: ise.Error(), SKU: ise.SKU})
	case errors.Is(err, orders.ErrReservationExpired):
		writeJSON(w, http.StatusConflict, errorBody{Error: "reservation already expired"})
	case errors.Is(err, inventory.ErrProductExists),
		errors.Is(err, inventory.ErrBelowReserved),
		errors.Is(err, inventory.ErrHasReservations),
		errors.Is(err, redisx.ErrIdempotencyInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, inventory.ErrProductNotFound), errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, errForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, orders.ErrInvalidOrder), errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, inventory.ErrInvariantViolation):
		log.Error("stock invariant violated", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-holds/internal/inventory"
)

type InventoryHandler struct {
	Store inventory.Store
	Log   *zap.Logger
}

type productView struct {
	inventory.Product
	Available int `json:"available"`
}

func viewOf(p inventory.Product) productView { return productView{Product: p, Available: p.Available()} }

type createProductReq struct {
	SKU           string          `json:"sku"`
	TotalQuantity int             `json:"totalQuantity"`
	Price         decimal.Decimal `json:"price"`
	Unit          string          `json:"unit"`
	ImageURL      string          `json:"imageUrl"`
}

type updateProductReq struct {
	TotalQuantity *int             `json:"totalQuantity"`
	Price         *decimal.Decimal `json:"price"`
	Unit          *string          `json:"unit"`
	ImageURL      *string          `json:"imageUrl"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/{sku}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate)
			r.With(RequireRole(RoleAdmin, RoleCoAdmin)).Post("/product", h.createProduct)
			r.With(RequireRole(RoleAdmin, RoleCoAdmin)).Put("/product/{sku}", h.updateProduct)
			r.With(RequireRole(RoleAdmin)).Delete("/product/{sku}", h.deleteProduct)
		})
	})
}

func (h *InventoryHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.List(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.Get(ctx, chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (h *InventoryHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.SKU) == "" || req.TotalQuantity < 0 || req.Price.IsNegative() {
		badRequest(w, "sku, non-negative totalQuantity and price are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Store.CreateProduct(ctx, inventory.Product{
		SKU:           req.SKU,
		TotalQuantity: req.TotalQuantity,
		Price:         req.Price,
		Unit:          req.Unit,
		ImageURL:      req.ImageURL,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("product created", zap.String("sku", p.SKU), zap.Int("totalQuantity", p.TotalQuantity))
	writeJSON(w, http.StatusCreated, viewOf(p))
}

func (h *InventoryHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.TotalQuantity == nil || *req.TotalQuantity < 0 {
		badRequest(w, "non-negative totalQuantity is required")
		return
	}
	if req.Price != nil && req.Price.IsNegative() {
		badRequest(w, "price must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sku := chi.URLParam(r, "sku")
	p, err := h.Store.UpdateProduct(ctx, sku, inventory.ProductUpdate{
		TotalQuantity: *req.TotalQuantity,
		Price:         req.Price,
		Unit:          req.Unit,
		ImageURL:      req.ImageURL,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("product updated", zap.String("sku", p.SKU), zap.Int("totalQuantity", p.TotalQuantity))
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (h *InventoryHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sku := chi.URLParam(r, "sku")
	if err := h.Store.DeleteProduct(ctx, sku); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info("product deleted", zap.String("sku", sku))
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/service"
)

// MarketplaceHandler exposes shop, product and site-config endpoints.
type MarketplaceHandler struct {
	shops      *service.ShopService
	products   *service.ProductService
	siteConfig *service.SiteConfigService
	logger     *zap.Logger
}

func NewMarketplaceHandler(shops *service.ShopService, products *service.ProductService, siteConfig *service.SiteConfigService, logger *zap.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{shops: shops, products: products, siteConfig: siteConfig, logger: logger}
}

func sellerFromContext(w http.ResponseWriter, r *http.Request) (*AuthContext, bool) {
	auth, ok := AuthFromContext(r.Context())
	if !ok {
		respondError(w, apperror.Auth("Unauthorized."))
		return nil, false
	}
	return auth, true
}

func (h *MarketplaceHandler) CreateShop(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	var req service.CreateShopRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shop, err := h.shops.Create(r.Context(), auth.AccountID, &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Shop created.", shop)
}

func (h *MarketplaceHandler) GetMyShop(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	shop, err := h.shops.GetBySeller(r.Context(), auth.AccountID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", shop)
}

func (h *MarketplaceHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	shop, err := h.shops.Get(r.Context(), chi.URLParam(r, "shopID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", shop)
}

func (h *MarketplaceHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	var req service.CreateProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := h.products.Create(r.Context(), auth.AccountID, &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Product created.", product)
}

// ListProducts is the public catalogue, paginated via limit/offset.
func (h *MarketplaceHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	products, err := h.products.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", products)
}

func (h *MarketplaceHandler) ListMyProducts(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	products, err := h.products.ListBySeller(r.Context(), auth.AccountID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", products)
}

func (h *MarketplaceHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", product)
}

func (h *MarketplaceHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	if err := h.products.Delete(r.Context(), auth.AccountID, chi.URLParam(r, "productID")); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Product deleted.", nil)
}

func (h *MarketplaceHandler) CreateDiscountCode(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	var req service.CreateDiscountCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code, err := h.products.CreateDiscountCode(r.Context(), auth.AccountID, &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Discount code created.", code)
}

func (h *MarketplaceHandler) ListDiscountCodes(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	codes, err := h.products.ListDiscountCodes(r.Context(), auth.AccountID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", codes)
}

func (h *MarketplaceHandler) DeleteDiscountCode(w http.ResponseWriter, r *http.Request) {
	auth, ok := sellerFromContext(w, r)
	if !ok {
		return
	}
	if err := h.products.DeleteDiscountCode(r.Context(), auth.AccountID, chi.URLParam(r, "codeID")); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Discount code deleted.", nil)
}

func (h *MarketplaceHandler) GetSiteConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.siteConfig.Get(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", cfg)
}

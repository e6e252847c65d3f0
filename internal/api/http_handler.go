package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"store-records-service/internal/cache"
	"store-records-service/internal/domain"
	"store-records-service/internal/metrics"
	"store-records-service/internal/store"
)

// Listing defaults; per_page values <= 0 and page values < 1 are clamped here
// rather than rejected.
const (
	defaultPage    = 1
	defaultPerPage = 5
)

// HTTPHandler holds dependencies for HTTP handlers. The cache and metrics
// fields may be nil; handlers degrade to the store alone.
type HTTPHandler struct {
	categoryStore store.CategoryStorer
	productStore  store.ProductStorer
	orderStore    store.OrderStorer
	listCache     *cache.ListCache
	metrics       *metrics.Metrics
	validate      *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(cs store.CategoryStorer, ps store.ProductStorer, os store.OrderStorer, lc *cache.ListCache, m *metrics.Metrics) *HTTPHandler {
	return &HTTPHandler{
		categoryStore: cs,
		productStore:  ps,
		orderStore:    os,
		listCache:     lc,
		metrics:       m,
		validate:      validator.New(),
	}
}

// --- Helpers ---

// SuccessResponse is the uniform envelope for non-list successes.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the uniform envelope for failures.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ListResponse is the envelope for paginated listings, pagination fields at
// the top level next to the data.
type ListResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalItems int         `json:"total_items"`
	TotalPages int         `json:"total_pages"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.WithError(err).Error("failed to encode JSON response")
			http.Error(w, `{"success": false, "error": "Internal server error during JSON encoding"}`, http.StatusInternalServerError)
		}
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Success: false, Error: message})
}

func respondWithData(w http.ResponseWriter, code int, data interface{}) {
	respondWithJSON(w, code, SuccessResponse{Success: true, Data: data})
}

// paginationParams reads page and per_page, clamping out-of-range values to
// the defaults instead of erroring.
func paginationParams(r *http.Request) (page, perPage int) {
	q := r.URL.Query()

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = defaultPage
	}
	perPage, err = strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = defaultPerPage
	}
	return page, perPage
}

func totalPages(totalItems, perPage int) int {
	if totalItems == 0 {
		return 0
	}
	return (totalItems + perPage - 1) / perPage
}

// --- Category Handlers ---

// CategoryCreateInput defines the expected input for creating a category.
type CategoryCreateInput struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
}

func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	category := &domain.Category{
		Name:        input.Name,
		Description: input.Description,
	}

	created, err := h.categoryStore.CreateCategory(r.Context(), category)
	if err != nil {
		log.WithError(err).Error("CreateCategory store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to create category")
		return
	}

	respondWithData(w, http.StatusCreated, created)
}

func (h *HTTPHandler) GetCategoryByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "categoryId")
	categoryID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || categoryID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}

	category, err := h.categoryStore.GetCategoryByID(r.Context(), categoryID)
	if err != nil {
		if errors.Is(err, store.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
			return
		}
		log.WithError(err).WithField("category_id", categoryID).Error("GetCategoryByID store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve category")
		return
	}

	respondWithData(w, http.StatusOK, category)
}

// DeleteCategory deletes by the category's natural key (its name).
func (h *HTTPHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "The 'name' parameter is required")
		return
	}

	category, err := h.categoryStore.GetCategoryByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
			return
		}
		log.WithError(err).WithField("name", name).Error("DeleteCategory lookup failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to delete category")
		return
	}

	if err := h.categoryStore.DeleteCategory(r.Context(), category.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrCategoryNotFound):
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
		case errors.Is(err, store.ErrCategoryInUse):
			respondWithError(w, http.StatusBadRequest, store.ErrCategoryInUse.Error())
		default:
			log.WithError(err).WithField("category_id", category.ID).Error("DeleteCategory store operation failed")
			respondWithError(w, http.StatusInternalServerError, "Failed to delete category")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// --- Product Handlers ---

// ProductCreateInput defines the expected input for creating a product.
// Price is a pointer so a literal 0 price passes the presence check; stock
// must be strictly positive.
type ProductCreateInput struct {
	Name       string   `json:"name" validate:"required"`
	Price      *float64 `json:"price" validate:"required"`
	Stock      *int32   `json:"stock" validate:"required,gt=0"`
	CategoryID int64    `json:"category_id" validate:"required,gt=0"`
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var input ProductCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	product := &domain.Product{
		Name:       input.Name,
		Price:      *input.Price,
		Stock:      *input.Stock,
		CategoryID: input.CategoryID,
	}

	created, err := h.productStore.CreateProduct(r.Context(), product)
	if err != nil {
		if errors.Is(err, store.ErrCategoryNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrCategoryNotFound.Error())
			return
		}
		log.WithError(err).Error("CreateProduct store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to create product")
		return
	}

	h.invalidateListCache(r, cache.KindProducts)
	respondWithData(w, http.StatusCreated, created)
}

// cachedPage is the shape stored in the list cache for both kinds.
type cachedPage struct {
	Items json.RawMessage `json:"items"`
	Total int             `json:"total"`
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, perPage := paginationParams(r)
	sortKey := r.URL.Query().Get("sort")

	var products []domain.Product
	var totalCount int

	if !h.listPageFromCache(r, cache.KindProducts, page, perPage, sortKey, &products, &totalCount) {
		params := store.ListProductsParams{
			Limit:  perPage,
			Offset: (page - 1) * perPage,
			SortBy: sortKey,
		}
		var err error
		products, totalCount, err = h.productStore.ListProducts(r.Context(), params)
		if err != nil {
			log.WithError(err).Error("ListProducts store operation failed")
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve products")
			return
		}
		h.storeListPage(r, cache.KindProducts, page, perPage, sortKey, products, totalCount)
	}

	respondWithJSON(w, http.StatusOK, ListResponse{
		Success:    true,
		Data:       products,
		Page:       page,
		PerPage:    perPage,
		TotalItems: totalCount,
		TotalPages: totalPages(totalCount, perPage),
	})
}

func (h *HTTPHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "productId")
	productID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || productID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	product, err := h.productStore.GetProductByID(r.Context(), productID)
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
			return
		}
		log.WithError(err).WithField("product_id", productID).Error("GetProductByID store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve product")
		return
	}

	respondWithData(w, http.StatusOK, product)
}

// DeleteProduct deletes by the product's natural key (its name).
func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "The 'name' parameter is required")
		return
	}

	product, err := h.productStore.GetProductByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
			return
		}
		log.WithError(err).WithField("name", name).Error("DeleteProduct lookup failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to delete product")
		return
	}

	if err := h.productStore.DeleteProduct(r.Context(), product.ID); err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrProductNotFound.Error())
			return
		}
		log.WithError(err).WithField("product_id", product.ID).Error("DeleteProduct store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to delete product")
		return
	}

	h.invalidateListCache(r, cache.KindProducts, cache.KindOrders)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// --- Order Handlers ---

// OrderCreateInput defines the expected input for composing an order.
// Products is optional; unknown or duplicate ids are tolerated downstream, so
// no validation is applied to the list itself.
type OrderCreateInput struct {
	Date     string  `json:"date" validate:"required"`
	Client   string  `json:"client" validate:"required"`
	Products []int64 `json:"products"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var input OrderCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	order := &domain.Order{
		Date:   input.Date,
		Client: input.Client,
	}

	created, resolution, err := h.orderStore.ComposeOrder(r.Context(), order, input.Products)
	if err != nil {
		log.WithError(err).Error("ComposeOrder store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	if h.metrics != nil && resolution != nil {
		h.metrics.OrderComposed(len(resolution.Skipped))
	}
	h.invalidateListCache(r, cache.KindOrders, cache.KindProducts)
	respondWithData(w, http.StatusCreated, created)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, perPage := paginationParams(r)
	sortKey := r.URL.Query().Get("sort")

	var orders []domain.Order
	var totalCount int

	if !h.listPageFromCache(r, cache.KindOrders, page, perPage, sortKey, &orders, &totalCount) {
		params := store.ListOrdersParams{
			Limit:  perPage,
			Offset: (page - 1) * perPage,
			SortBy: sortKey,
		}
		var err error
		orders, totalCount, err = h.orderStore.ListOrders(r.Context(), params)
		if err != nil {
			log.WithError(err).Error("ListOrders store operation failed")
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve orders")
			return
		}
		h.storeListPage(r, cache.KindOrders, page, perPage, sortKey, orders, totalCount)
	}

	respondWithJSON(w, http.StatusOK, ListResponse{
		Success:    true,
		Data:       orders,
		Page:       page,
		PerPage:    perPage,
		TotalItems: totalCount,
		TotalPages: totalPages(totalCount, perPage),
	})
}

func (h *HTTPHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "orderId")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || orderID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	order, err := h.orderStore.GetOrderByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrOrderNotFound.Error())
			return
		}
		log.WithError(err).WithField("order_id", orderID).Error("GetOrderByID store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve order")
		return
	}

	respondWithData(w, http.StatusOK, order)
}

// DeleteOrder deletes by the order's natural key (date plus client).
func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	client := r.URL.Query().Get("client")
	if date == "" || client == "" {
		respondWithError(w, http.StatusBadRequest, "The 'date' and 'client' parameters are required")
		return
	}

	order, err := h.orderStore.GetOrderByNaturalKey(r.Context(), date, client)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrOrderNotFound.Error())
			return
		}
		log.WithError(err).WithFields(log.Fields{"date": date, "client": client}).Error("DeleteOrder lookup failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to delete order")
		return
	}

	if err := h.orderStore.DeleteOrder(r.Context(), order.ID); err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrOrderNotFound.Error())
			return
		}
		log.WithError(err).WithField("order_id", order.ID).Error("DeleteOrder store operation failed")
		respondWithError(w, http.StatusInternalServerError, "Failed to delete order")
		return
	}

	h.invalidateListCache(r, cache.KindOrders, cache.KindProducts)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// --- Cache plumbing ---

// listPageFromCache tries to fill items and total from the list cache.
// A nil cache or any cache failure reads as a miss.
func (h *HTTPHandler) listPageFromCache(r *http.Request, kind string, page, perPage int, sortKey string, items interface{}, total *int) bool {
	if h.listCache == nil {
		return false
	}
	var cached cachedPage
	if !h.listCache.GetPage(r.Context(), kind, page, perPage, sortKey, &cached) {
		return false
	}
	if err := json.Unmarshal(cached.Items, items); err != nil {
		log.WithError(err).WithField("kind", kind).Warn("discarding undecodable cached list page")
		return false
	}
	*total = cached.Total
	return true
}

func (h *HTTPHandler) storeListPage(r *http.Request, kind string, page, perPage int, sortKey string, items interface{}, total int) {
	if h.listCache == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		log.WithError(err).WithField("kind", kind).Warn("failed to marshal list page for cache")
		return
	}
	h.listCache.SetPage(r.Context(), kind, page, perPage, sortKey, cachedPage{Items: raw, Total: total})
}

func (h *HTTPHandler) invalidateListCache(r *http.Request, kinds ...string) {
	if h.listCache == nil {
		return
	}
	h.listCache.Invalidate(r.Context(), kinds...)
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/categories", func(r chi.Router) {
		r.Post("/", h.CreateCategory)
		r.Delete("/deletecategory", h.DeleteCategory)
		r.Get("/{categoryId}", h.GetCategoryByID)
	})

	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.CreateProduct)
		r.Get("/allproducts", h.ListProducts)
		r.Delete("/deleteproduct", h.DeleteProduct)
		r.Get("/{productId}", h.GetProductByID)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/allorders", h.ListOrders)
		r.Delete("/deleteorder", h.DeleteOrder)
		r.Get("/{orderId}", h.GetOrderByID)
	})
}

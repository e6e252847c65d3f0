package store

import (
	"context"

	"store-records-service/internal/domain"
)

// ListProductsParams holds pagination and sorting parameters for product listings.
type ListProductsParams struct {
	Limit  int
	Offset int
	SortBy string // recognized: "name"; anything else falls back to the default
}

// ListOrdersParams holds pagination and sorting parameters for order listings.
type ListOrdersParams struct {
	Limit  int
	Offset int
	SortBy string // recognized: "date"; anything else falls back to the default
}

// ProductResolution reports how the ids handed to ComposeOrder were settled.
// Resolved products were attached to the new order; Skipped ids did not match
// any product and were dropped without error.
type ProductResolution struct {
	Resolved []domain.Product
	Skipped  []int64
}

// CategoryStorer defines the database operations for categories.
type CategoryStorer interface {
	CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// ProductStorer defines the database operations for products.
type ProductStorer interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByName(ctx context.Context, name string) (*domain.Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error)
	DeleteProduct(ctx context.Context, id int64) error
}

// OrderStorer defines the database operations for orders, including the
// composition step that attaches products and derives the total.
type OrderStorer interface {
	ComposeOrder(ctx context.Context, order *domain.Order, productIDs []int64) (*domain.Order, *ProductResolution, error)
	GetOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	GetOrderByNaturalKey(ctx context.Context, date, client string) (*domain.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]domain.Order, int, error)
	DeleteOrder(ctx context.Context, id int64) error
}

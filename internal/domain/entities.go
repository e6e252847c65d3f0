package domain

import (
	"time"
)

// Category groups products. Products hold a non-owning reference to their
// category; a category never embeds its products.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is a catalog entry. OrderID is nil while the product is not part of
// any order; composing an order sets it, and a later composition that claims
// the same product overwrites it (a product belongs to at most one order).
type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Price      float64   `json:"price"`
	Stock      int32     `json:"stock"`
	CategoryID int64     `json:"category_id"`
	OrderID    *int64    `json:"order_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a client purchase. TotalAmount is derived from the prices of the
// associated products at composition time and is never supplied by a client.
// Products carries the associated products when the order is read back.
type Order struct {
	ID          int64     `json:"id"`
	Date        string    `json:"date"`
	Client      string    `json:"client"`
	TotalAmount float64   `json:"total_amount"`
	Products    []Product `json:"products"`
	CreatedAt   time.Time `json:"created_at"`
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"store-records-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrCategoryNotFound = errors.New("store: category not found")
	ErrCategoryInUse    = errors.New("store: category still referenced by products")
	ErrProductNotFound  = errors.New("store: product not found")
	ErrOrderNotFound    = errors.New("store: order not found")
)

// defaultProductSort keeps listings stable across pages; id breaks ties between
// equal names.
const defaultProductSort = "LOWER(name) ASC, id ASC"

var productSortClauses = map[string]string{
	"name": defaultProductSort,
}

// PostgresStore implements CategoryStorer, ProductStorer and OrderStorer using
// PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// --- CategoryStorer Implementation ---

func (s *PostgresStore) CreateCategory(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	query := `
		INSERT INTO categories (name, description)
		VALUES ($1, $2)
		RETURNING id, name, description, created_at;
	`
	row := s.db.QueryRowContext(ctx, query, category.Name, category.Description)

	var created domain.Category
	if err := row.Scan(&created.ID, &created.Name, &created.Description, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: CreateCategory failed to scan row: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	query := `
		SELECT id, name, description, created_at
		FROM categories
		WHERE id = $1;
	`
	var category domain.Category
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategoryByID failed to scan row: %w", err)
	}
	return &category, nil
}

func (s *PostgresStore) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	query := `
		SELECT id, name, description, created_at
		FROM categories
		WHERE name = $1
		ORDER BY id ASC
		LIMIT 1;
	`
	var category domain.Category
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategoryByName failed to scan row: %w", err)
	}
	return &category, nil
}

// DeleteCategory removes a category outright. Deletion is denied while any
// product still references the category (products.category_id is a restricting
// foreign key), surfacing ErrCategoryInUse instead of leaving dangling
// references behind.
func (s *PostgresStore) DeleteCategory(ctx context.Context, id int64) error {
	query := `DELETE FROM categories WHERE id = $1;`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // Foreign key violation
			return ErrCategoryInUse
		}
		return fmt.Errorf("store: DeleteCategory failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteCategory failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// --- ProductStorer Implementation ---

func (s *PostgresStore) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	query := `
		INSERT INTO products (name, price, stock, category_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, price, stock, category_id, order_id, created_at;
	`
	row := s.db.QueryRowContext(ctx, query, product.Name, product.Price, product.Stock, product.CategoryID)

	var created domain.Product
	var orderID sql.NullInt64
	err := row.Scan(
		&created.ID,
		&created.Name,
		&created.Price,
		&created.Stock,
		&created.CategoryID,
		&orderID,
		&created.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // category_id references a missing row
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: CreateProduct failed to scan row: %w", err)
	}
	if orderID.Valid {
		created.OrderID = &orderID.Int64
	}
	return &created, nil
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, name, price, stock, category_id, order_id, created_at
		FROM products
		WHERE id = $1;
	`
	product, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	return product, nil
}

func (s *PostgresStore) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	query := `
		SELECT id, name, price, stock, category_id, order_id, created_at
		FROM products
		WHERE name = $1
		ORDER BY id ASC
		LIMIT 1;
	`
	product, err := scanProduct(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByName failed to scan row: %w", err)
	}
	return product, nil
}

// ListProducts retrieves a sorted page of products plus the total count.
// Unrecognized sort keys fall back to the default name ordering rather than
// erroring; the sort clause is always taken from the whitelist, never from
// caller input.
func (s *PostgresStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) {
	countQuery := `SELECT COUNT(*) FROM products;`
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to count products: %w", err)
	}

	if totalCount == 0 {
		return []domain.Product{}, 0, nil
	}

	orderClause := defaultProductSort
	if clause, ok := productSortClauses[strings.ToLower(params.SortBy)]; ok {
		orderClause = clause
	} else if params.SortBy != "" {
		log.WithField("sort", params.SortBy).Debug("unrecognized product sort key, using default")
	}

	query := fmt.Sprintf(`
		SELECT id, name, price, stock, category_id, order_id, created_at
		FROM products
		ORDER BY %s
		LIMIT $1 OFFSET $2;
	`, orderClause)

	rows, err := s.db.QueryContext(ctx, query, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, params.Limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		products = append(products, *product)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts iteration error: %w", err)
	}

	return products, totalCount, nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id int64) error {
	query := `DELETE FROM products WHERE id = $1;`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var orderID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CategoryID, &orderID, &p.CreatedAt); err != nil {
		return nil, err
	}
	if orderID.Valid {
		p.OrderID = &orderID.Int64
	}
	return &p, nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.WithError(err).Error("failed to close database connection pool")
			return err
		}
		log.Info("database connection pool closed")
	}
	return nil
}

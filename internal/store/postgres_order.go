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

const defaultOrderSort = "date ASC, id ASC"

var orderSortClauses = map[string]string{
	"date": defaultOrderSort,
}

// ComposeOrder creates the order and attaches the referenced products in one
// transaction. Product ids that do not resolve to a row are skipped, never an
// error; duplicates in productIDs attach a product once. Attaching is an
// ownership transfer: a product already held by another order is reassigned to
// the new one (last write wins). The order's total_amount is recomputed from
// the rows actually associated at commit time, so a concurrent reader never
// sees a total derived from a partial product set.
func (s *PostgresStore) ComposeOrder(ctx context.Context, order *domain.Order, productIDs []int64) (*domain.Order, *ProductResolution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("store: ComposeOrder failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertQuery := `
		INSERT INTO orders (date, client, total_amount)
		VALUES ($1, $2, 0)
		RETURNING id, created_at;
	`
	created := domain.Order{
		Date:     order.Date,
		Client:   order.Client,
		Products: []domain.Product{},
	}
	if err = tx.QueryRowContext(ctx, insertQuery, order.Date, order.Client).Scan(&created.ID, &created.CreatedAt); err != nil {
		err = fmt.Errorf("store: ComposeOrder failed to insert order: %w", err)
		return nil, nil, err
	}

	resolution := &ProductResolution{Resolved: []domain.Product{}, Skipped: []int64{}}

	ids := dedupeIDs(productIDs)
	if len(ids) > 0 {
		resolution, err = s.reassignProducts(ctx, tx, created.ID, ids)
		if err != nil {
			return nil, nil, err
		}
	}

	totalQuery := `
		UPDATE orders
		SET total_amount = (SELECT COALESCE(SUM(price), 0) FROM products WHERE order_id = orders.id)
		WHERE id = $1
		RETURNING total_amount;
	`
	if err = tx.QueryRowContext(ctx, totalQuery, created.ID).Scan(&created.TotalAmount); err != nil {
		err = fmt.Errorf("store: ComposeOrder failed to recompute total: %w", err)
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("store: ComposeOrder failed to commit: %w", err)
		return nil, nil, err
	}

	for i := range resolution.Resolved {
		resolution.Resolved[i].OrderID = &created.ID
	}
	created.Products = resolution.Resolved

	if len(resolution.Skipped) > 0 {
		log.WithFields(log.Fields{
			"order_id":    created.ID,
			"skipped_ids": resolution.Skipped,
		}).Warn("order composition skipped unknown product ids")
	}

	return &created, resolution, nil
}

// reassignProducts locks the resolvable subset of ids, partitions them into
// resolved and skipped, and transfers ownership of the resolved rows to the
// given order within the caller's transaction.
func (s *PostgresStore) reassignProducts(ctx context.Context, tx *sql.Tx, orderID int64, ids []int64) (*ProductResolution, error) {
	selectQuery := `
		SELECT id, name, price, stock, category_id, order_id, created_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE;
	`
	rows, err := tx.QueryContext(ctx, selectQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("store: ComposeOrder failed to resolve products: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("store: ComposeOrder failed to scan product row: %w", err)
		}
		found[product.ID] = *product
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ComposeOrder product iteration error: %w", err)
	}

	resolution := &ProductResolution{Resolved: []domain.Product{}, Skipped: []int64{}}
	resolvedIDs := make([]int64, 0, len(found))
	for _, id := range ids {
		if product, ok := found[id]; ok {
			resolution.Resolved = append(resolution.Resolved, product)
			resolvedIDs = append(resolvedIDs, id)
		} else {
			resolution.Skipped = append(resolution.Skipped, id)
		}
	}

	if len(resolvedIDs) > 0 {
		updateQuery := `UPDATE products SET order_id = $1 WHERE id = ANY($2);`
		if _, err = tx.ExecContext(ctx, updateQuery, orderID, pq.Array(resolvedIDs)); err != nil {
			return nil, fmt.Errorf("store: ComposeOrder failed to reassign products: %w", err)
		}
	}

	return resolution, nil
}

func (s *PostgresStore) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `
		SELECT id, date, client, total_amount, created_at
		FROM orders
		WHERE id = $1;
	`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("store: GetOrderByID failed to scan row: %w", err)
	}

	if err := s.attachOrderProducts(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresStore) GetOrderByNaturalKey(ctx context.Context, date, client string) (*domain.Order, error) {
	query := `
		SELECT id, date, client, total_amount, created_at
		FROM orders
		WHERE date = $1 AND client = $2
		ORDER BY id ASC
		LIMIT 1;
	`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, date, client))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("store: GetOrderByNaturalKey failed to scan row: %w", err)
	}

	if err := s.attachOrderProducts(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders retrieves a sorted page of orders, each with its associated
// products loaded, plus the total count. Unrecognized sort keys fall back to
// the default date ordering.
func (s *PostgresStore) ListOrders(ctx context.Context, params ListOrdersParams) ([]domain.Order, int, error) {
	countQuery := `SELECT COUNT(*) FROM orders;`
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListOrders failed to count orders: %w", err)
	}

	if totalCount == 0 {
		return []domain.Order{}, 0, nil
	}

	orderClause := defaultOrderSort
	if clause, ok := orderSortClauses[strings.ToLower(params.SortBy)]; ok {
		orderClause = clause
	} else if params.SortBy != "" {
		log.WithField("sort", params.SortBy).Debug("unrecognized order sort key, using default")
	}

	query := fmt.Sprintf(`
		SELECT id, date, client, total_amount, created_at
		FROM orders
		ORDER BY %s
		LIMIT $1 OFFSET $2;
	`, orderClause)

	rows, err := s.db.QueryContext(ctx, query, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListOrders failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, params.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: ListOrders failed to scan order row: %w", err)
		}
		orders = append(orders, *order)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListOrders iteration error: %w", err)
	}

	refs := make([]*domain.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := s.attachOrderProducts(ctx, refs); err != nil {
		return nil, 0, err
	}

	return orders, totalCount, nil
}

// DeleteOrder removes the order and detaches its products in the same
// transaction, so dependent products end up with a null order_id rather than a
// dangling reference.
func (s *PostgresStore) DeleteOrder(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: DeleteOrder failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	detachQuery := `UPDATE products SET order_id = NULL WHERE order_id = $1;`
	if _, err = tx.ExecContext(ctx, detachQuery, id); err != nil {
		err = fmt.Errorf("store: DeleteOrder failed to detach products: %w", err)
		return err
	}

	deleteQuery := `DELETE FROM orders WHERE id = $1;`
	result, execErr := tx.ExecContext(ctx, deleteQuery, id)
	if execErr != nil {
		err = fmt.Errorf("store: DeleteOrder failed to execute delete: %w", execErr)
		return err
	}
	rowsAffected, raErr := result.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("store: DeleteOrder failed to get rows affected: %w", raErr)
		return err
	}
	if rowsAffected == 0 {
		err = ErrOrderNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: DeleteOrder failed to commit: %w", err)
	}
	return nil
}

// attachOrderProducts loads the products for the given orders in a single
// query and attaches them. Orders without products get an empty slice, not nil.
func (s *PostgresStore) attachOrderProducts(ctx context.Context, orders []*domain.Order) error {
	for _, order := range orders {
		order.Products = []domain.Product{}
	}
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*domain.Order, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		byID[order.ID] = order
	}

	query := `
		SELECT id, name, price, stock, category_id, order_id, created_at
		FROM products
		WHERE order_id = ANY($1)
		ORDER BY id ASC;
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("store: failed to load order products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return fmt.Errorf("store: failed to scan order product row: %w", err)
		}
		if product.OrderID == nil {
			continue
		}
		if order, ok := byID[*product.OrderID]; ok {
			order.Products = append(order.Products, *product)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("store: order products iteration error: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.Date, &o.Client, &o.TotalAmount, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// dedupeIDs drops repeated ids while keeping first-occurrence order, so a
// product listed twice in a request is associated once.
func dedupeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gnrdjasser/vegas-shop/internal/database"
	"github.com/Gnrdjasser/vegas-shop/internal/models"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	Name          string
	Description   string
	OriginalPrice *decimal.Decimal
	SalePrice     *decimal.Decimal
	Quantity      int
	Image         *string
}

// ProductUpdate carries only the fields to change; nil fields keep
// their current value. Prices cannot be reset to NULL through here.
type ProductUpdate struct {
	Name          *string
	Description   *string
	OriginalPrice *decimal.Decimal
	SalePrice     *decimal.Decimal
	Quantity      *int
	Image         *string
}

// StockAvailability reports whether one product can satisfy a requested
// quantity at check time.
type StockAvailability struct {
	Available    bool   `json:"available"`
	CurrentStock int    `json:"current_stock"`
	Requested    int    `json:"requested"`
	Reason       string `json:"reason,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
}

const productColumns = `id, name, description, original_price, sale_price, quantity, image, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.OriginalPrice,
		&product.SalePrice,
		&product.Quantity,
		&product.Image,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	if violations := validateProduct(req); len(violations) > 0 {
		return nil, &database.ValidationError{Violations: violations}
	}

	product := &models.Product{}

	query := `
		INSERT INTO products (name, description, original_price, sale_price, quantity, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query,
		req.Name, req.Description, req.OriginalPrice, req.SalePrice, req.Quantity, req.Image), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1`

	err := scanProduct(db.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func ProductExists(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)",
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	return NewOffsetPage(products, total, page, pageSize), nil
}

func SearchProducts(ctx context.Context, db *sql.DB, term string) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY name ASC`

	rows, err := db.QueryContext(ctx, query, "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

func ListInStockProducts(ctx context.Context, db *sql.DB) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE quantity > 0
		ORDER BY name ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list in-stock products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

func ListLowStockProducts(ctx context.Context, db *sql.DB, threshold int) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE quantity <= $1
		ORDER BY quantity ASC`

	rows, err := db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low-stock products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// ListProductsByPriceRange returns in-stock products whose effective
// price (sale price, falling back to original) lies within the range.
func ListProductsByPriceRange(ctx context.Context, db *sql.DB, min, max decimal.Decimal) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE COALESCE(sale_price, original_price) BETWEEN $1 AND $2
		  AND quantity > 0
		ORDER BY COALESCE(sale_price, original_price) ASC`

	rows, err := db.QueryContext(ctx, query, min, max)
	if err != nil {
		return nil, fmt.Errorf("list products by price range: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// FeaturedProduct is an in-stock product ranked by how many order lines
// include it.
type FeaturedProduct struct {
	models.Product
	OrderCount int64 `json:"order_count"`
}

func ListFeaturedProducts(ctx context.Context, db *sql.DB, limit int) ([]FeaturedProduct, error) {
	query := `
		SELECT
			p.id, p.name, p.description, p.original_price, p.sale_price,
			p.quantity, p.image, p.created_at, p.updated_at,
			COUNT(oi.id)
		FROM products p
		LEFT JOIN order_items oi ON p.id = oi.product_id
		WHERE p.quantity > 0
		GROUP BY p.id
		ORDER BY COUNT(oi.id) DESC, p.created_at DESC
		LIMIT $1`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list featured products: %w", err)
	}
	defer rows.Close()

	var products []FeaturedProduct
	for rows.Next() {
		var fp FeaturedProduct
		err := rows.Scan(
			&fp.ID,
			&fp.Name,
			&fp.Description,
			&fp.OriginalPrice,
			&fp.SalePrice,
			&fp.Quantity,
			&fp.Image,
			&fp.CreatedAt,
			&fp.UpdatedAt,
			&fp.OrderCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan featured product: %w", err)
		}
		products = append(products, fp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// UpdateProduct applies a partial update built from the set fields of
// upd as one parameterized statement.
func UpdateProduct(ctx context.Context, db *sql.DB, id int64, upd ProductUpdate) (int64, error) {
	var clauses []string
	args := []any{id}

	addClause := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		addClause("name", *upd.Name)
	}
	if upd.Description != nil {
		addClause("description", *upd.Description)
	}
	if upd.OriginalPrice != nil {
		addClause("original_price", *upd.OriginalPrice)
	}
	if upd.SalePrice != nil {
		addClause("sale_price", *upd.SalePrice)
	}
	if upd.Quantity != nil {
		if *upd.Quantity < 0 {
			return 0, &database.ValidationError{Violations: []string{"quantity must be a non-negative number"}}
		}
		addClause("quantity", *upd.Quantity)
	}
	if upd.Image != nil {
		addClause("image", *upd.Image)
	}

	if len(clauses) == 0 {
		return 0, database.ErrNoFieldsToUpdate
	}

	query := fmt.Sprintf(
		"UPDATE products SET %s, updated_at = NOW() WHERE id = $1",
		strings.Join(clauses, ", "))

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return affected, nil
}

// SetStock overwrites the absolute quantity. Admin-only path; order
// placement and deletion must go through the decrement/increment
// primitives instead.
func SetStock(ctx context.Context, db *sql.DB, id int64, quantity int) (int64, error) {
	if quantity < 0 {
		return 0, &database.ValidationError{Violations: []string{"quantity must be a non-negative number"}}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET quantity = $1, updated_at = NOW()
		 WHERE id = $2`,
		quantity, id)
	if err != nil {
		return 0, fmt.Errorf("set stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return affected, nil
}

func DeleteProduct(ctx context.Context, db *sql.DB, id int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return affected, nil
}

// CheckStockAvailability reports, per product, whether current stock
// covers the requested quantity. Read-only; the authoritative check is
// the conditional decrement inside the placement transaction.
func CheckStockAvailability(ctx context.Context, db *sql.DB, requests map[int64]int) (map[int64]StockAvailability, error) {
	availability := make(map[int64]StockAvailability, len(requests))

	for productID, requested := range requests {
		var name string
		var stock int

		err := db.QueryRowContext(ctx,
			`SELECT name, quantity FROM products WHERE id = $1`,
			productID).Scan(&name, &stock)
		if err != nil {
			if err == sql.ErrNoRows {
				availability[productID] = StockAvailability{
					Available: false,
					Requested: requested,
					Reason:    "product not found",
				}
				continue
			}
			return nil, fmt.Errorf("check stock for product %d: %w", productID, err)
		}

		entry := StockAvailability{
			Available:    stock >= requested,
			CurrentStock: stock,
			Requested:    requested,
			ProductName:  name,
		}
		if !entry.Available {
			entry.Reason = "insufficient stock"
		}

		availability[productID] = entry
	}

	return availability, nil
}

// DecrementStock is the one correctness-critical primitive: a single
// conditional UPDATE that only fires while stock covers the quantity,
// so concurrent reservations cannot drive it negative.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET quantity = quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if affected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// DecrementStockMany reserves stock for every entry or none: the first
// failed decrement aborts with ErrStockConflict and the caller's
// transaction rolls back the rest. Rows are always locked in ascending
// product order so two concurrent multi-product operations cannot
// deadlock on each other.
func DecrementStockMany(ctx context.Context, tx *sql.Tx, quantities map[int64]int) error {
	for _, productID := range sortedProductIDs(quantities) {
		if err := DecrementStock(ctx, tx, productID, quantities[productID]); err != nil {
			if err == database.ErrInsufficientStock {
				return fmt.Errorf("product %d: %w", productID, database.ErrStockConflict)
			}
			return err
		}
	}
	return nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET quantity = quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

// IncrementStockMany restores stock for every entry, locking rows in
// the same ascending product order as DecrementStockMany.
func IncrementStockMany(ctx context.Context, tx *sql.Tx, quantities map[int64]int) error {
	for _, productID := range sortedProductIDs(quantities) {
		if err := IncrementStock(ctx, tx, productID, quantities[productID]); err != nil {
			return err
		}
	}
	return nil
}

func sortedProductIDs(quantities map[int64]int) []int64 {
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ProductOrder is one order line containing a given product, with the
// order header fields an admin needs alongside it.
type ProductOrder struct {
	OrderID       int64           `json:"order_id"`
	OrderCode     string          `json:"order_code"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	OrderTotal    decimal.Decimal `json:"order_total"`
	Status        string          `json:"status"`
	OrderDate     time.Time       `json:"order_date"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ItemTotal     decimal.Decimal `json:"item_total"`
}

func GetProductOrders(ctx context.Context, db *sql.DB, id int64) ([]ProductOrder, error) {
	query := `
		SELECT
			o.id,
			o.order_code,
			o.customer_name,
			o.customer_phone,
			o.total_amount,
			o.status,
			o.created_at,
			oi.quantity,
			oi.unit_price,
			oi.total_price
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id
		WHERE oi.product_id = $1
		ORDER BY o.created_at DESC`

	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get product orders: %w", err)
	}
	defer rows.Close()

	var orders []ProductOrder
	for rows.Next() {
		var po ProductOrder
		err := rows.Scan(
			&po.OrderID,
			&po.OrderCode,
			&po.CustomerName,
			&po.CustomerPhone,
			&po.OrderTotal,
			&po.Status,
			&po.OrderDate,
			&po.Quantity,
			&po.UnitPrice,
			&po.ItemTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product order: %w", err)
		}
		orders = append(orders, po)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ProductCustomer aggregates one customer's purchase history for a
// given product, ranked by spend.
type ProductCustomer struct {
	CustomerName        string          `json:"customer_name"`
	CustomerPhone       string          `json:"customer_phone"`
	OrderCount          int64           `json:"order_count"`
	TotalQuantityBought int64           `json:"total_quantity_bought"`
	TotalSpent          decimal.Decimal `json:"total_spent_on_product"`
	FirstPurchase       time.Time       `json:"first_purchase"`
	LastPurchase        time.Time       `json:"last_purchase"`
}

func GetProductCustomers(ctx context.Context, db *sql.DB, id int64) ([]ProductCustomer, error) {
	query := `
		SELECT
			o.customer_name,
			o.customer_phone,
			COUNT(DISTINCT o.id),
			SUM(oi.quantity),
			SUM(oi.total_price),
			MIN(o.created_at),
			MAX(o.created_at)
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id
		WHERE oi.product_id = $1
		GROUP BY o.customer_name, o.customer_phone
		ORDER BY SUM(oi.total_price) DESC`

	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get product customers: %w", err)
	}
	defer rows.Close()

	var customers []ProductCustomer
	for rows.Next() {
		var pc ProductCustomer
		err := rows.Scan(
			&pc.CustomerName,
			&pc.CustomerPhone,
			&pc.OrderCount,
			&pc.TotalQuantityBought,
			&pc.TotalSpent,
			&pc.FirstPurchase,
			&pc.LastPurchase,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product customer: %w", err)
		}
		customers = append(customers, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return customers, nil
}

// ProductStats aggregates sales history for one product.
type ProductStats struct {
	ProductID         int64               `json:"product_id"`
	Name              string              `json:"name"`
	CurrentStock      int                 `json:"current_stock"`
	TotalOrders       int64               `json:"total_orders"`
	TotalQuantitySold int64               `json:"total_quantity_sold"`
	TotalRevenue      decimal.Decimal     `json:"total_revenue"`
	AverageUnitPrice  decimal.NullDecimal `json:"average_unit_price"`
}

func GetProductStats(ctx context.Context, db *sql.DB, id int64) (*ProductStats, error) {
	stats := &ProductStats{}

	query := `
		SELECT
			p.id,
			p.name,
			p.quantity,
			COUNT(DISTINCT oi.order_id),
			COALESCE(SUM(oi.quantity), 0),
			COALESCE(SUM(oi.total_price), 0),
			AVG(oi.unit_price)
		FROM products p
		LEFT JOIN order_items oi ON p.id = oi.product_id
		WHERE p.id = $1
		GROUP BY p.id`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&stats.ProductID,
		&stats.Name,
		&stats.CurrentStock,
		&stats.TotalOrders,
		&stats.TotalQuantitySold,
		&stats.TotalRevenue,
		&stats.AverageUnitPrice,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product stats: %w", err)
	}

	return stats, nil
}

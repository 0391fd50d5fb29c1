package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Gnrdjasser/vegas-shop/internal/database"
	"github.com/Gnrdjasser/vegas-shop/internal/models"
	"github.com/shopspring/decimal"
)

type PlaceOrderRequest struct {
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	Status          string
	Notes           *string
	// OrderCode, when empty, is allocated by AllocateOrderCode.
	OrderCode string
	Items     []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderUpdate carries only the mutable header fields; items change
// through the item operations, never through here.
type OrderUpdate struct {
	CustomerName    *string
	CustomerPhone   *string
	CustomerAddress *string
	Status          *string
	Notes           *string
}

type OrderItemUpdate struct {
	Quantity  *int
	UnitPrice *decimal.Decimal
}

// orderLine is one stored item row after duplicate product lines have
// been merged.
type orderLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

const orderColumns = `id, order_code, customer_name, customer_phone, customer_address, total_amount, status, notes, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.OrderCode,
		&order.CustomerName,
		&order.CustomerPhone,
		&order.CustomerAddress,
		&order.TotalAmount,
		&order.Status,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}

// mergeOrderLines sums quantities per product so a product split across
// several request lines is checked and reserved once for its full
// amount. Lines for the same product must agree on unit price.
func mergeOrderLines(items []OrderItemRequest) ([]orderLine, []string) {
	var lines []orderLine
	var violations []string
	index := make(map[int64]int, len(items))

	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			if !lines[i].UnitPrice.Equal(item.UnitPrice) {
				violations = append(violations, fmt.Sprintf(
					"product %d appears in multiple lines with different unit prices", item.ProductID))
				continue
			}
			lines[i].Quantity += item.Quantity
			continue
		}

		index[item.ProductID] = len(lines)
		lines = append(lines, orderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	return lines, violations
}

// PlaceOrder admits a multi-item order as one atomic unit: validate,
// check availability, allocate a code, write header and items, reserve
// stock, commit. Any failure after the transaction begins rolls back
// every write and decrement.
func PlaceOrder(ctx context.Context, db *sql.DB, req PlaceOrderRequest) (*models.Order, error) {
	violations := validateOrderHeader(req)
	violations = append(violations, validateOrderItems(req.Items)...)

	for i, item := range req.Items {
		if item.ProductID <= 0 {
			continue
		}
		exists, err := ProductExists(ctx, db, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !exists {
			violations = append(violations, fmt.Sprintf("item %d: product does not exist", i))
		}
	}

	lines, mergeViolations := mergeOrderLines(req.Items)
	violations = append(violations, mergeViolations...)

	if len(violations) > 0 {
		return nil, &database.ValidationError{Violations: violations}
	}

	quantities := make(map[int64]int, len(lines))
	for _, line := range lines {
		quantities[line.ProductID] = line.Quantity
	}

	availability, err := CheckStockAvailability(ctx, db, quantities)
	if err != nil {
		return nil, err
	}

	var shortfalls []database.StockShortfall
	for _, line := range lines {
		entry := availability[line.ProductID]
		if entry.Available {
			continue
		}
		shortfalls = append(shortfalls, database.StockShortfall{
			ProductID:    line.ProductID,
			ProductName:  entry.ProductName,
			Requested:    entry.Requested,
			CurrentStock: entry.CurrentStock,
			Reason:       entry.Reason,
		})
	}
	if len(shortfalls) > 0 {
		return nil, &database.StockUnavailableError{Shortfalls: shortfalls}
	}

	totalAmount := decimal.Zero
	for _, line := range lines {
		totalAmount = totalAmount.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	status := req.Status
	if status == "" {
		status = models.OrderStatusPending
	}
	phone := sanitizePhone(req.CustomerPhone)

	// The unique constraint on order_code is the real allocation guard:
	// when a concurrent placement claims the same candidate code first,
	// the insert trips it and we re-allocate.
	for attempt := 0; attempt < orderCodeMaxAttempts; attempt++ {
		code := req.OrderCode
		if code == "" {
			code, err = AllocateOrderCode(ctx, db, time.Now())
			if err != nil {
				return nil, err
			}
		}

		var orderID int64
		err = database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx,
				`INSERT INTO orders (order_code, customer_name, customer_phone, customer_address, total_amount, status, notes, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
				 RETURNING id`,
				code, req.CustomerName, phone, req.CustomerAddress, totalAmount, status, req.Notes).Scan(&orderID)
			if err != nil {
				return fmt.Errorf("create order: %w", err)
			}

			for _, line := range lines {
				totalPrice := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))

				_, err = tx.ExecContext(ctx,
					`INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, created_at)
					 VALUES ($1, $2, $3, $4, $5, NOW())`,
					orderID, line.ProductID, line.Quantity, line.UnitPrice, totalPrice)
				if err != nil {
					return fmt.Errorf("create order item: %w", err)
				}
			}

			return DecrementStockMany(ctx, tx, quantities)
		})
		if err != nil {
			if req.OrderCode == "" && database.IsUniqueViolation(err, "orders_order_code_key") {
				continue
			}
			return nil, err
		}

		return GetOrder(ctx, db, orderID)
	}

	return nil, fmt.Errorf("allocate order code: %d attempts exhausted", orderCodeMaxAttempts)
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1`

	err := scanOrder(db.QueryRowContext(ctx, query, id), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = GetOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrderByCode(ctx context.Context, db *sql.DB, code string) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE order_code = $1`

	err := scanOrder(db.QueryRowContext(ctx, query, code), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by code: %w", err)
	}

	order.Items, err = GetOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderItems returns an order's items joined with live product
// name/description/image for display. Prices stay the stored snapshot.
func GetOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT
			oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.total_price, oi.created_at,
			p.name, p.description, p.image
		FROM order_items oi
		JOIN products p ON oi.product_id = p.id
		WHERE oi.order_id = $1
		ORDER BY oi.created_at ASC, oi.id ASC`

	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.CreatedAt,
			&item.ProductName,
			&item.ProductDescription,
			&item.ProductImage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func GetOrderItem(ctx context.Context, db *sql.DB, itemID int64) (*models.OrderItem, error) {
	item := &models.OrderItem{}

	query := `
		SELECT
			oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.total_price, oi.created_at,
			p.name, p.description, p.image
		FROM order_items oi
		JOIN products p ON oi.product_id = p.id
		WHERE oi.id = $1`

	err := db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.Quantity,
		&item.UnitPrice,
		&item.TotalPrice,
		&item.CreatedAt,
		&item.ProductName,
		&item.ProductDescription,
		&item.ProductImage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderItemNotFound
		}
		return nil, fmt.Errorf("get order item: %w", err)
	}

	return item, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := db.QueryContext(ctx, query, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// SearchOrders matches customer name, phone, or order code.
func SearchOrders(ctx context.Context, db *sql.DB, term string) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_name ILIKE $1
		   OR customer_phone ILIKE $1
		   OR order_code ILIKE $1
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	return attachItems(ctx, db, orders)
}

func OrdersByStatus(ctx context.Context, db *sql.DB, status string) ([]models.Order, error) {
	if !models.IsValidOrderStatus(status) {
		return nil, &database.ValidationError{Violations: []string{fmt.Sprintf(
			"invalid status %q, must be one of: %s", status, strings.Join(models.ValidOrderStatuses, ", "))}}
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("orders by status: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	return attachItems(ctx, db, orders)
}

func OrdersByPhone(ctx context.Context, db *sql.DB, phone string) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_phone LIKE $1
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, "%"+sanitizePhone(phone)+"%")
	if err != nil {
		return nil, fmt.Errorf("orders by phone: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	return attachItems(ctx, db, orders)
}

// OrdersByDateRange returns order headers created between the two
// dates inclusive, compared by calendar date. Items are not loaded.
func OrdersByDateRange(ctx context.Context, db *sql.DB, start, end time.Time) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE created_at::date BETWEEN $1 AND $2
		ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("orders by date range: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func attachItems(ctx context.Context, db *sql.DB, orders []models.Order) ([]models.Order, error) {
	for i := range orders {
		items, err := GetOrderItems(ctx, db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// UpdateOrder applies a partial header update as one parameterized
// statement. Items and total_amount are not touched.
func UpdateOrder(ctx context.Context, db *sql.DB, id int64, upd OrderUpdate) (int64, error) {
	var clauses []string
	args := []any{id}

	addClause := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.CustomerName != nil {
		if strings.TrimSpace(*upd.CustomerName) == "" || len(*upd.CustomerName) > maxCustomerNameLen {
			return 0, &database.ValidationError{Violations: []string{fmt.Sprintf(
				"customer name is required and must be %d characters or less", maxCustomerNameLen)}}
		}
		addClause("customer_name", *upd.CustomerName)
	}
	if upd.CustomerPhone != nil {
		phone := sanitizePhone(*upd.CustomerPhone)
		if len(phone) > maxCustomerPhoneLen {
			return 0, &database.ValidationError{Violations: []string{fmt.Sprintf(
				"customer phone must be %d characters or less", maxCustomerPhoneLen)}}
		}
		addClause("customer_phone", phone)
	}
	if upd.CustomerAddress != nil {
		addClause("customer_address", *upd.CustomerAddress)
	}
	if upd.Status != nil {
		if !models.IsValidOrderStatus(*upd.Status) {
			return 0, &database.ValidationError{Violations: []string{fmt.Sprintf(
				"invalid status %q, must be one of: %s", *upd.Status, strings.Join(models.ValidOrderStatuses, ", "))}}
		}
		addClause("status", *upd.Status)
	}
	if upd.Notes != nil {
		addClause("notes", *upd.Notes)
	}

	if len(clauses) == 0 {
		return 0, database.ErrNoFieldsToUpdate
	}

	query := fmt.Sprintf(
		"UPDATE orders SET %s, updated_at = NOW() WHERE id = $1",
		strings.Join(clauses, ", "))

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return affected, nil
}

// DeleteOrder removes the order (items cascade) and restores every
// item's quantity to inventory in the same transaction. A missing
// order returns 0, not an error.
func DeleteOrder(ctx context.Context, db *sql.DB, id int64) (int64, error) {
	items, err := GetOrderItems(ctx, db, id)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}

		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if affected == 0 {
			return nil
		}

		restore := make(map[int64]int, len(items))
		for _, item := range items {
			restore[item.ProductID] += item.Quantity
		}

		return IncrementStockMany(ctx, tx, restore)
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// AddOrderItem appends an item to an existing order, reserving its
// stock and recomputing the order total in the same transaction.
func AddOrderItem(ctx context.Context, db *sql.DB, orderID int64, item OrderItemRequest) (*models.OrderItem, error) {
	if violations := validateOrderItems([]OrderItemRequest{item}); len(violations) > 0 {
		return nil, &database.ValidationError{Violations: violations}
	}

	exists, err := OrderExists(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, database.ErrOrderNotFound
	}

	exists, err = ProductExists(ctx, db, item.ProductID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, database.ErrProductNotFound
	}

	var itemID int64
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		totalPrice := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 RETURNING id`,
			orderID, item.ProductID, item.Quantity, item.UnitPrice, totalPrice).Scan(&itemID)
		if err != nil {
			if database.IsUniqueViolation(err, "order_items_order_id_product_id_key") {
				return database.ErrDuplicateOrderItem
			}
			return fmt.Errorf("create order item: %w", err)
		}

		if err := reserveStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}

		return recomputeOrderTotal(ctx, tx, orderID)
	})
	if err != nil {
		return nil, err
	}

	return GetOrderItem(ctx, db, itemID)
}

// UpdateOrderItem changes an item's quantity and/or unit price,
// keeping total_price = quantity × unit_price, adjusting inventory by
// the quantity delta, and recomputing the order total.
func UpdateOrderItem(ctx context.Context, db *sql.DB, itemID int64, upd OrderItemUpdate) (int64, error) {
	if upd.Quantity == nil && upd.UnitPrice == nil {
		return 0, database.ErrNoFieldsToUpdate
	}
	if upd.Quantity != nil && *upd.Quantity <= 0 {
		return 0, &database.ValidationError{Violations: []string{"quantity must be a positive number"}}
	}
	if upd.UnitPrice != nil && !upd.UnitPrice.IsPositive() {
		return 0, &database.ValidationError{Violations: []string{"unit price must be a positive number"}}
	}

	var affected int64
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var orderID, productID int64
		var quantity int
		var unitPrice decimal.Decimal

		err := tx.QueryRowContext(ctx,
			`SELECT order_id, product_id, quantity, unit_price
			 FROM order_items
			 WHERE id = $1`,
			itemID).Scan(&orderID, &productID, &quantity, &unitPrice)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderItemNotFound
			}
			return fmt.Errorf("get order item: %w", err)
		}

		newQuantity := quantity
		if upd.Quantity != nil {
			newQuantity = *upd.Quantity
		}
		newUnitPrice := unitPrice
		if upd.UnitPrice != nil {
			newUnitPrice = *upd.UnitPrice
		}

		if delta := newQuantity - quantity; delta > 0 {
			if err := reserveStockTx(ctx, tx, productID, delta); err != nil {
				return err
			}
		} else if delta < 0 {
			if err := IncrementStock(ctx, tx, productID, -delta); err != nil {
				return err
			}
		}

		totalPrice := newUnitPrice.Mul(decimal.NewFromInt(int64(newQuantity)))

		result, err := tx.ExecContext(ctx,
			`UPDATE order_items
			 SET quantity = $1, unit_price = $2, total_price = $3
			 WHERE id = $4`,
			newQuantity, newUnitPrice, totalPrice, itemID)
		if err != nil {
			return fmt.Errorf("update order item: %w", err)
		}

		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		return recomputeOrderTotal(ctx, tx, orderID)
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// RemoveOrderItem deletes an item, restores its stock, and recomputes
// the order total. A missing item returns 0, not an error.
func RemoveOrderItem(ctx context.Context, db *sql.DB, itemID int64) (int64, error) {
	var affected int64
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var orderID, productID int64
		var quantity int

		err := tx.QueryRowContext(ctx,
			`SELECT order_id, product_id, quantity
			 FROM order_items
			 WHERE id = $1`,
			itemID).Scan(&orderID, &productID, &quantity)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("get order item: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
		if err != nil {
			return fmt.Errorf("delete order item: %w", err)
		}

		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if affected == 0 {
			return nil
		}

		if err := IncrementStock(ctx, tx, productID, quantity); err != nil {
			return err
		}

		return recomputeOrderTotal(ctx, tx, orderID)
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// reserveStockTx decrements conditionally and, on shortage, reads the
// live stock back so the caller gets a structured shortfall instead of
// a bare sentinel.
func reserveStockTx(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	err := DecrementStock(ctx, tx, productID, quantity)
	if err == nil || err != database.ErrInsufficientStock {
		return err
	}

	var name string
	var stock int
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT name, quantity FROM products WHERE id = $1`,
		productID).Scan(&name, &stock); scanErr != nil {
		return fmt.Errorf("read stock for product %d: %w", productID, scanErr)
	}

	return &database.StockUnavailableError{Shortfalls: []database.StockShortfall{{
		ProductID:    productID,
		ProductName:  name,
		Requested:    quantity,
		CurrentStock: stock,
		Reason:       "insufficient stock",
	}}}
}

func recomputeOrderTotal(ctx context.Context, tx *sql.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET total_amount = COALESCE((SELECT SUM(total_price) FROM order_items WHERE order_id = $1), 0),
		     updated_at = NOW()
		 WHERE id = $1`,
		orderID)
	if err != nil {
		return fmt.Errorf("recompute order total: %w", err)
	}
	return nil
}

func CountOrders(ctx context.Context, db *sql.DB) (int64, error) {
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func OrderExists(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)",
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

type SalesStats struct {
	Period            string              `json:"period"`
	TotalOrders       int64               `json:"total_orders"`
	TotalRevenue      decimal.Decimal     `json:"total_revenue"`
	AverageOrderValue decimal.NullDecimal `json:"average_order_value"`
	TotalItemsSold    int64               `json:"total_items_sold"`
	FirstOrder        *time.Time          `json:"first_order,omitempty"`
	LastOrder         *time.Time          `json:"last_order,omitempty"`
}

func GetSalesStats(ctx context.Context, db *sql.DB, period string) (*SalesStats, error) {
	var dateCondition string

	switch period {
	case "today":
		dateCondition = "WHERE o.created_at::date = CURRENT_DATE"
	case "week":
		dateCondition = "WHERE o.created_at >= NOW() - INTERVAL '1 week'"
	case "month", "":
		period = "month"
		dateCondition = "WHERE o.created_at >= NOW() - INTERVAL '1 month'"
	case "year":
		dateCondition = "WHERE o.created_at >= NOW() - INTERVAL '1 year'"
	default:
		return nil, &database.ValidationError{Violations: []string{
			fmt.Sprintf("invalid period %q, must be one of: today, week, month, year", period)}}
	}

	stats := &SalesStats{Period: period}

	// Items are pre-aggregated per order so revenue and order averages
	// count each order exactly once regardless of its item count.
	query := fmt.Sprintf(`
		SELECT
			COUNT(o.id),
			COALESCE(SUM(o.total_amount), 0),
			AVG(o.total_amount),
			COALESCE(SUM(i.items_sold), 0)::bigint,
			MIN(o.created_at),
			MAX(o.created_at)
		FROM orders o
		LEFT JOIN (
			SELECT order_id, SUM(quantity) AS items_sold
			FROM order_items
			GROUP BY order_id
		) i ON o.id = i.order_id
		%s`, dateCondition)

	err := db.QueryRowContext(ctx, query).Scan(
		&stats.TotalOrders,
		&stats.TotalRevenue,
		&stats.AverageOrderValue,
		&stats.TotalItemsSold,
		&stats.FirstOrder,
		&stats.LastOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("get sales stats: %w", err)
	}

	return stats, nil
}

// CustomerSummary aggregates one customer's order history, keyed by
// phone the same way OrdersByPhone matches.
type CustomerSummary struct {
	CustomerName      string              `json:"customer_name"`
	CustomerPhone     string              `json:"customer_phone"`
	TotalOrders       int64               `json:"total_orders"`
	TotalSpent        decimal.Decimal     `json:"total_spent"`
	AverageOrderValue decimal.NullDecimal `json:"average_order_value"`
	FirstOrder        time.Time           `json:"first_order"`
	LastOrder         time.Time           `json:"last_order"`
}

func GetCustomerSummary(ctx context.Context, db *sql.DB, phone string) (*CustomerSummary, error) {
	summary := &CustomerSummary{}

	query := `
		SELECT
			customer_name,
			customer_phone,
			COUNT(DISTINCT id),
			SUM(total_amount),
			AVG(total_amount),
			MIN(created_at),
			MAX(created_at)
		FROM orders
		WHERE customer_phone LIKE $1
		GROUP BY customer_name, customer_phone
		LIMIT 1`

	err := db.QueryRowContext(ctx, query, "%"+sanitizePhone(phone)+"%").Scan(
		&summary.CustomerName,
		&summary.CustomerPhone,
		&summary.TotalOrders,
		&summary.TotalSpent,
		&summary.AverageOrderValue,
		&summary.FirstOrder,
		&summary.LastOrder,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get customer summary: %w", err)
	}

	return summary, nil
}

type TopProduct struct {
	ProductID         int64               `json:"product_id"`
	Name              string              `json:"name"`
	OrderCount        int64               `json:"order_count"`
	TotalQuantitySold int64               `json:"total_quantity_sold"`
	TotalRevenue      decimal.Decimal     `json:"total_revenue"`
	AveragePrice      decimal.NullDecimal `json:"average_price"`
}

func GetTopSellingProducts(ctx context.Context, db *sql.DB, limit int) ([]TopProduct, error) {
	query := `
		SELECT
			p.id,
			p.name,
			COUNT(DISTINCT oi.order_id),
			SUM(oi.quantity),
			SUM(oi.total_price),
			AVG(oi.unit_price)
		FROM products p
		JOIN order_items oi ON p.id = oi.product_id
		GROUP BY p.id, p.name
		ORDER BY SUM(oi.quantity) DESC, SUM(oi.total_price) DESC
		LIMIT $1`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("top selling products: %w", err)
	}
	defer rows.Close()

	var products []TopProduct
	for rows.Next() {
		var p TopProduct
		err := rows.Scan(
			&p.ProductID,
			&p.Name,
			&p.OrderCount,
			&p.TotalQuantitySold,
			&p.TotalRevenue,
			&p.AveragePrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan top product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

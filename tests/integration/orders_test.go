package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gnrdjasser/vegas-shop/internal/database"
	"github.com/Gnrdjasser/vegas-shop/internal/store"
	"github.com/shopspring/decimal"
)

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func productStock(t *testing.T, db *sql.DB, id int64) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("Get product %d: %v", id, err)
	}
	return product.Quantity
}

func TestPlaceOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(150)
	product := createTestProduct(t, db, "Leather Bag", price, 5)

	order, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if order.ID == 0 {
		t.Error("Order ID should not be 0")
	}
	if order.Status != "pending" {
		t.Errorf("Expected status pending, got %s", order.Status)
	}

	wantCode := "ORD-" + time.Now().Format("20060102") + "-001"
	if order.OrderCode != wantCode {
		t.Errorf("Expected order code %s, got %s", wantCode, order.OrderCode)
	}

	wantTotal := price.Mul(decimal.NewFromInt(3))
	if !order.TotalAmount.Equal(wantTotal) {
		t.Errorf("Expected total %s, got %s", wantTotal, order.TotalAmount)
	}

	if len(order.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(order.Items))
	}
	item := order.Items[0]
	if !item.TotalPrice.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
		t.Errorf("Item total %s inconsistent with %s x %d", item.TotalPrice, item.UnitPrice, item.Quantity)
	}
	if item.ProductName != "Leather Bag" {
		t.Errorf("Expected joined product name, got %q", item.ProductName)
	}

	if stock := productStock(t, db, product.ID); stock != 2 {
		t.Errorf("Expected stock 2 after placement, got %d", stock)
	}
}

func TestPlaceOrderCollectsAllViolations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
		CustomerName:    "",
		CustomerPhone:   "",
		CustomerAddress: "",
		Status:          "teleported",
		Items: []store.OrderItemRequest{
			{ProductID: 9999, Quantity: 0, UnitPrice: decimal.Zero},
		},
	})

	var vErr *database.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}

	// name, phone, address, status, quantity, unit price, missing product
	if len(vErr.Violations) < 7 {
		t.Errorf("Expected all violations collected, got %d: %v", len(vErr.Violations), vErr.Violations)
	}

	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Validation failure must not create orders, found %d", n)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(80)
	product := createTestProduct(t, db, "Snapback Cap", price, 2)

	_, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3, UnitPrice: price},
	))

	var sErr *database.StockUnavailableError
	if !errors.As(err, &sErr) {
		t.Fatalf("Expected StockUnavailableError, got: %v", err)
	}
	if len(sErr.Shortfalls) != 1 {
		t.Fatalf("Expected 1 shortfall, got %d", len(sErr.Shortfalls))
	}

	shortfall := sErr.Shortfalls[0]
	if shortfall.ProductID != product.ID || shortfall.Requested != 3 || shortfall.CurrentStock != 2 {
		t.Errorf("Unexpected shortfall detail: %+v", shortfall)
	}

	if stock := productStock(t, db, product.ID); stock != 2 {
		t.Errorf("Stock should remain unchanged at 2, got %d", stock)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Failed placement must not create orders, found %d", n)
	}
}

func TestPlaceOrderBoundaryStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(50)
	product := createTestProduct(t, db, "Tote Bag", price, 4)

	// Exactly the available quantity drains stock to zero.
	_, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 4, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Placement at exact stock should succeed: %v", err)
	}
	if stock := productStock(t, db, product.ID); stock != 0 {
		t.Errorf("Expected stock 0, got %d", stock)
	}

	// One more unit must fail without mutation.
	_, err = store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
	))
	var sErr *database.StockUnavailableError
	if !errors.As(err, &sErr) {
		t.Fatalf("Expected StockUnavailableError, got: %v", err)
	}
	if stock := productStock(t, db, product.ID); stock != 0 {
		t.Errorf("Stock should stay at 0, got %d", stock)
	}
}

func TestPlaceOrderMergesDuplicateLines(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(30)
	product := createTestProduct(t, db, "Trucker Cap", price, 5)

	// 3+3 exceeds the 5 in stock once the lines are summed.
	_, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3, UnitPrice: price},
		store.OrderItemRequest{ProductID: product.ID, Quantity: 3, UnitPrice: price},
	))
	var sErr *database.StockUnavailableError
	if !errors.As(err, &sErr) {
		t.Fatalf("Duplicate lines must be aggregated before the check, got: %v", err)
	}

	// 2+2 fits and lands as a single merged item row.
	order, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 2, UnitPrice: price},
		store.OrderItemRequest{ProductID: product.ID, Quantity: 2, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	if len(order.Items) != 1 {
		t.Fatalf("Expected merged single item row, got %d", len(order.Items))
	}
	if order.Items[0].Quantity != 4 {
		t.Errorf("Expected merged quantity 4, got %d", order.Items[0].Quantity)
	}
	if stock := productStock(t, db, product.ID); stock != 1 {
		t.Errorf("Expected stock 1, got %d", stock)
	}

	// Conflicting unit prices for the same product are rejected.
	_, err = store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price.Add(decimal.NewFromInt(5))},
	))
	var vErr *database.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("Expected ValidationError for conflicting unit prices, got: %v", err)
	}
}

func TestConcurrentPlacementSingleWinner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(120)
	product := createTestProduct(t, db, "Duffel Bag", price, 3)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := store.PlaceOrder(ctx, db, testOrderRequest(
				store.OrderItemRequest{ProductID: product.ID, Quantity: 3, UnitPrice: price},
			))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	stockFailures := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrStockConflict):
			stockFailures++
		default:
			var sErr *database.StockUnavailableError
			if errors.As(err, &sErr) {
				stockFailures++
			} else {
				t.Errorf("Unexpected error: %v", err)
			}
		}
	}

	if successCount != 1 || stockFailures != 1 {
		t.Errorf("Expected exactly one winner, got %d successes and %d stock failures", successCount, stockFailures)
	}
	if stock := productStock(t, db, product.ID); stock != 0 {
		t.Errorf("Expected final stock 0, got %d", stock)
	}
}

func TestOrderCodeSequence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(10)
	product := createTestProduct(t, db, "Beanie", price, 100)

	prefix := "ORD-" + time.Now().Format("20060102") + "-"

	for i, want := range []string{prefix + "001", prefix + "002"} {
		order, err := store.PlaceOrder(ctx, db, testOrderRequest(
			store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
		))
		if err != nil {
			t.Fatalf("Place order %d: %v", i, err)
		}
		if order.OrderCode != want {
			t.Errorf("Expected code %s, got %s", want, order.OrderCode)
		}
	}

	// A caller-supplied code advances the daily counter past it.
	req := testOrderRequest(store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price})
	req.OrderCode = prefix + "041"
	if _, err := store.PlaceOrder(ctx, db, req); err != nil {
		t.Fatalf("Place order with explicit code: %v", err)
	}

	order, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order after explicit code: %v", err)
	}
	if want := prefix + "042"; order.OrderCode != want {
		t.Errorf("Expected code %s, got %s", want, order.OrderCode)
	}
}

func TestConcurrentPlacementsGetDistinctCodes(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(25)
	product := createTestProduct(t, db, "Bucket Hat", price, 100)

	concurrency := 10
	var wg sync.WaitGroup
	codes := make(chan string, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			order, err := store.PlaceOrder(ctx, db, testOrderRequest(
				store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
			))
			if err != nil {
				t.Errorf("Concurrent placement failed: %v", err)
				return
			}
			codes <- order.OrderCode
		}()
	}

	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		if seen[code] {
			t.Errorf("Duplicate order code allocated: %s", code)
		}
		seen[code] = true
	}

	if len(seen) != concurrency {
		t.Errorf("Expected %d distinct codes, got %d", concurrency, len(seen))
	}
}

func TestDeleteOrderRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price1 := decimal.NewFromInt(90)
	price2 := decimal.NewFromInt(45)
	product1 := createTestProduct(t, db, "Messenger Bag", price1, 7)
	product2 := createTestProduct(t, db, "Flat Cap", price2, 4)

	order, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product1.ID, Quantity: 2, UnitPrice: price1},
		store.OrderItemRequest{ProductID: product2.ID, Quantity: 1, UnitPrice: price2},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if stock := productStock(t, db, product1.ID); stock != 5 {
		t.Errorf("Expected product 1 stock 5 after placement, got %d", stock)
	}
	if stock := productStock(t, db, product2.ID); stock != 3 {
		t.Errorf("Expected product 2 stock 3 after placement, got %d", stock)
	}

	affected, err := store.DeleteOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Delete order: %v", err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	if stock := productStock(t, db, product1.ID); stock != 7 {
		t.Errorf("Expected product 1 stock restored to 7, got %d", stock)
	}
	if stock := productStock(t, db, product2.ID); stock != 4 {
		t.Errorf("Expected product 2 stock restored to 4, got %d", stock)
	}

	if _, err := store.GetOrder(ctx, db, order.ID); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order gone, got: %v", err)
	}
	if n := countRows(t, db, "order_items"); n != 0 {
		t.Errorf("Expected items cascaded away, found %d", n)
	}
}

func TestDeleteMissingOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	affected, err := store.DeleteOrder(context.Background(), db, 424242)
	if err != nil {
		t.Fatalf("Delete of missing order should not error: %v", err)
	}
	if affected != 0 {
		t.Errorf("Expected 0 affected rows, got %d", affected)
	}
}

func TestGetOrderByCode(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(60)
	product := createTestProduct(t, db, "Backpack", price, 10)

	placed, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 2, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	order, err := store.GetOrderByCode(ctx, db, placed.OrderCode)
	if err != nil {
		t.Fatalf("Get order by code: %v", err)
	}
	if order.ID != placed.ID {
		t.Errorf("Expected order %d, got %d", placed.ID, order.ID)
	}
	if len(order.Items) != 1 {
		t.Errorf("Expected items loaded, got %d", len(order.Items))
	}

	if _, err := store.GetOrderByCode(ctx, db, "ORD-19700101-001"); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected not found for unknown code, got: %v", err)
	}
}

func TestUpdateOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(35)
	product := createTestProduct(t, db, "Dad Hat", price, 10)

	placed, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	status := "shipped"
	notes := "left with neighbor"
	affected, err := store.UpdateOrder(ctx, db, placed.ID, store.OrderUpdate{
		Status: &status,
		Notes:  &notes,
	})
	if err != nil {
		t.Fatalf("Update order: %v", err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	order, err := store.GetOrder(ctx, db, placed.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != "shipped" {
		t.Errorf("Expected status shipped, got %s", order.Status)
	}
	if order.Notes == nil || *order.Notes != notes {
		t.Errorf("Expected notes %q, got %v", notes, order.Notes)
	}
	if order.CustomerName != placed.CustomerName {
		t.Errorf("Untouched field changed: %s", order.CustomerName)
	}

	bad := "lost"
	if _, err := store.UpdateOrder(ctx, db, placed.ID, store.OrderUpdate{Status: &bad}); err == nil {
		t.Error("Expected validation error for invalid status")
	}

	if _, err := store.UpdateOrder(ctx, db, placed.ID, store.OrderUpdate{}); !errors.Is(err, database.ErrNoFieldsToUpdate) {
		t.Errorf("Expected ErrNoFieldsToUpdate, got: %v", err)
	}
}

func TestOrderItemOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price1 := decimal.NewFromInt(70)
	price2 := decimal.NewFromInt(20)
	product1 := createTestProduct(t, db, "Weekender Bag", price1, 10)
	product2 := createTestProduct(t, db, "Visor", price2, 6)

	order, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product1.ID, Quantity: 2, UnitPrice: price1},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	item, err := store.AddOrderItem(ctx, db, order.ID, store.OrderItemRequest{
		ProductID: product2.ID, Quantity: 3, UnitPrice: price2,
	})
	if err != nil {
		t.Fatalf("Add order item: %v", err)
	}
	if stock := productStock(t, db, product2.ID); stock != 3 {
		t.Errorf("Expected stock 3 after item add, got %d", stock)
	}

	updated, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	wantTotal := price1.Mul(decimal.NewFromInt(2)).Add(price2.Mul(decimal.NewFromInt(3)))
	if !updated.TotalAmount.Equal(wantTotal) {
		t.Errorf("Expected total %s after item add, got %s", wantTotal, updated.TotalAmount)
	}

	// Same product twice in one order violates the schema.
	_, err = store.AddOrderItem(ctx, db, order.ID, store.OrderItemRequest{
		ProductID: product2.ID, Quantity: 1, UnitPrice: price2,
	})
	if !errors.Is(err, database.ErrDuplicateOrderItem) {
		t.Errorf("Expected ErrDuplicateOrderItem, got: %v", err)
	}

	// Growing the quantity reserves the delta.
	newQty := 5
	if _, err := store.UpdateOrderItem(ctx, db, item.ID, store.OrderItemUpdate{Quantity: &newQty}); err != nil {
		t.Fatalf("Update order item: %v", err)
	}
	if stock := productStock(t, db, product2.ID); stock != 1 {
		t.Errorf("Expected stock 1 after quantity growth, got %d", stock)
	}

	// Shrinking restores the delta.
	newQty = 1
	if _, err := store.UpdateOrderItem(ctx, db, item.ID, store.OrderItemUpdate{Quantity: &newQty}); err != nil {
		t.Fatalf("Update order item: %v", err)
	}
	if stock := productStock(t, db, product2.ID); stock != 5 {
		t.Errorf("Expected stock 5 after quantity shrink, got %d", stock)
	}

	got, err := store.GetOrderItem(ctx, db, item.ID)
	if err != nil {
		t.Fatalf("Get order item: %v", err)
	}
	if !got.TotalPrice.Equal(got.UnitPrice.Mul(decimal.NewFromInt(int64(got.Quantity)))) {
		t.Errorf("Item total %s inconsistent after update", got.TotalPrice)
	}

	// Growing past availability fails and leaves everything unchanged.
	tooMany := 50
	_, err = store.UpdateOrderItem(ctx, db, item.ID, store.OrderItemUpdate{Quantity: &tooMany})
	var sErr *database.StockUnavailableError
	if !errors.As(err, &sErr) {
		t.Fatalf("Expected StockUnavailableError, got: %v", err)
	}
	if stock := productStock(t, db, product2.ID); stock != 5 {
		t.Errorf("Failed update must not change stock, got %d", stock)
	}

	affected, err := store.RemoveOrderItem(ctx, db, item.ID)
	if err != nil {
		t.Fatalf("Remove order item: %v", err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}
	if stock := productStock(t, db, product2.ID); stock != 6 {
		t.Errorf("Expected stock fully restored to 6, got %d", stock)
	}

	final, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if want := price1.Mul(decimal.NewFromInt(2)); !final.TotalAmount.Equal(want) {
		t.Errorf("Expected total %s after item removal, got %s", want, final.TotalAmount)
	}

	affected, err = store.RemoveOrderItem(ctx, db, item.ID)
	if err != nil || affected != 0 {
		t.Errorf("Removing a missing item should return 0, nil; got %d, %v", affected, err)
	}
}

func TestListOrdersCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(15)
	product := createTestProduct(t, db, "Keychain", price, 100)

	for i := 0; i < 15; i++ {
		_, err := store.PlaceOrder(ctx, db, testOrderRequest(
			store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
		))
		if err != nil {
			t.Fatalf("Place order %d: %v", i, err)
		}
	}

	page1, err := store.ListOrdersCursor(ctx, db, "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}
	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}
	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := store.ListOrdersCursor(ctx, db, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}
}

func TestSearchAndFilterOrders(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(40)
	product := createTestProduct(t, db, "Satchel", price, 20)

	req := testOrderRequest(store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price})
	req.CustomerName = "Fatima Zahra"
	req.CustomerPhone = "+212 661-223344"
	placed, err := store.PlaceOrder(ctx, db, req)
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	byName, err := store.SearchOrders(ctx, db, "fatima")
	if err != nil {
		t.Fatalf("Search orders: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != placed.ID {
		t.Errorf("Expected search by name to find the order, got %d results", len(byName))
	}
	if len(byName) == 1 && len(byName[0].Items) != 1 {
		t.Errorf("Expected items loaded on search results")
	}

	byCode, err := store.SearchOrders(ctx, db, placed.OrderCode)
	if err != nil {
		t.Fatalf("Search orders by code: %v", err)
	}
	if len(byCode) != 1 {
		t.Errorf("Expected search by code to find the order, got %d results", len(byCode))
	}

	pending, err := store.OrdersByStatus(ctx, db, "pending")
	if err != nil {
		t.Fatalf("Orders by status: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending order, got %d", len(pending))
	}

	if _, err := store.OrdersByStatus(ctx, db, "bogus"); err == nil {
		t.Error("Expected validation error for bogus status")
	}

	byPhone, err := store.OrdersByPhone(ctx, db, "661-223344")
	if err != nil {
		t.Fatalf("Orders by phone: %v", err)
	}
	if len(byPhone) != 1 {
		t.Errorf("Expected 1 order by phone, got %d", len(byPhone))
	}
}

func TestSalesStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price1 := decimal.NewFromInt(100)
	price2 := decimal.NewFromInt(50)
	product1 := createTestProduct(t, db, "Holdall", price1, 50)
	product2 := createTestProduct(t, db, "Pouch", price2, 50)

	// Multi-item orders: revenue must count each order once, not once
	// per item row.
	for i := 0; i < 3; i++ {
		_, err := store.PlaceOrder(ctx, db, testOrderRequest(
			store.OrderItemRequest{ProductID: product1.ID, Quantity: 2, UnitPrice: price1},
			store.OrderItemRequest{ProductID: product2.ID, Quantity: 1, UnitPrice: price2},
		))
		if err != nil {
			t.Fatalf("Place order %d: %v", i, err)
		}
	}

	stats, err := store.GetSalesStats(ctx, db, "today")
	if err != nil {
		t.Fatalf("Get sales stats: %v", err)
	}
	if stats.TotalOrders != 3 {
		t.Errorf("Expected 3 orders, got %d", stats.TotalOrders)
	}
	if want := decimal.NewFromInt(750); !stats.TotalRevenue.Equal(want) {
		t.Errorf("Expected revenue %s, got %s", want, stats.TotalRevenue)
	}
	if want := decimal.NewFromInt(250); !stats.AverageOrderValue.Valid || !stats.AverageOrderValue.Decimal.Equal(want) {
		t.Errorf("Expected average order value %s, got %v", want, stats.AverageOrderValue)
	}
	if stats.TotalItemsSold != 9 {
		t.Errorf("Expected 9 items sold, got %d", stats.TotalItemsSold)
	}

	top, err := store.GetTopSellingProducts(ctx, db, 5)
	if err != nil {
		t.Fatalf("Top selling products: %v", err)
	}
	if len(top) != 2 || top[0].ProductID != product1.ID || top[0].TotalQuantitySold != 6 {
		t.Errorf("Unexpected top products: %+v", top)
	}

	if _, err := store.GetSalesStats(ctx, db, "quarter"); err == nil {
		t.Error("Expected validation error for unknown period")
	}

	if _, err := store.GetSalesStats(ctx, db, fmt.Sprintf("%d", time.Now().Year())); err == nil {
		t.Error("Expected validation error for numeric period")
	}
}

func TestOrdersByDateRange(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(20)
	product := createTestProduct(t, db, "Pencil Case", price, 10)

	for i := 0; i < 2; i++ {
		_, err := store.PlaceOrder(ctx, db, testOrderRequest(
			store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
		))
		if err != nil {
			t.Fatalf("Place order %d: %v", i, err)
		}
	}

	today := time.Now()
	orders, err := store.OrdersByDateRange(ctx, db, today, today)
	if err != nil {
		t.Fatalf("Orders by date range: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("Expected 2 orders for today, got %d", len(orders))
	}

	past := today.AddDate(0, 0, -7)
	orders, err = store.OrdersByDateRange(ctx, db, past, past.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Orders by date range: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("Expected no orders last week, got %d", len(orders))
	}
}

func TestCustomerSummary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(40)
	product := createTestProduct(t, db, "Laptop Sleeve", price, 10)

	for _, qty := range []int{1, 2} {
		req := testOrderRequest(store.OrderItemRequest{ProductID: product.ID, Quantity: qty, UnitPrice: price})
		req.CustomerName = "Amine Bouzid"
		req.CustomerPhone = "+212 662-778899"
		if _, err := store.PlaceOrder(ctx, db, req); err != nil {
			t.Fatalf("Place order: %v", err)
		}
	}

	summary, err := store.GetCustomerSummary(ctx, db, "662-778899")
	if err != nil {
		t.Fatalf("Get customer summary: %v", err)
	}
	if summary.CustomerName != "Amine Bouzid" {
		t.Errorf("Expected customer name Amine Bouzid, got %q", summary.CustomerName)
	}
	if summary.TotalOrders != 2 {
		t.Errorf("Expected 2 orders, got %d", summary.TotalOrders)
	}
	if want := decimal.NewFromInt(120); !summary.TotalSpent.Equal(want) {
		t.Errorf("Expected total spent %s, got %s", want, summary.TotalSpent)
	}
	if summary.LastOrder.Before(summary.FirstOrder) {
		t.Errorf("Last order %v before first order %v", summary.LastOrder, summary.FirstOrder)
	}

	if _, err := store.GetCustomerSummary(ctx, db, "600-999999"); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound for unknown phone, got: %v", err)
	}
}

func TestPlaceOrderRejectsOverlongPhone(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	price := decimal.NewFromInt(20)
	product := createTestProduct(t, db, "Lanyard", price, 10)

	req := testOrderRequest(store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price})
	req.CustomerPhone = "+212 600-00000123" // 17 chars after sanitizing

	_, err := store.PlaceOrder(ctx, db, req)
	var vErr *database.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError for overlong phone, got: %v", err)
	}
	if n := countRows(t, db, "orders"); n != 0 {
		t.Errorf("Failed placement must not create orders, found %d", n)
	}

	placed, err := store.PlaceOrder(ctx, db, testOrderRequest(
		store.OrderItemRequest{ProductID: product.ID, Quantity: 1, UnitPrice: price},
	))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	longPhone := "+212 600-00000123"
	if _, err := store.UpdateOrder(ctx, db, placed.ID, store.OrderUpdate{CustomerPhone: &longPhone}); !errors.As(err, &vErr) {
		t.Errorf("Expected ValidationError updating to overlong phone, got: %v", err)
	}
}

package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gnrdjasser/vegas-shop/internal/config"
	"github.com/Gnrdjasser/vegas-shop/internal/database"
	"github.com/Gnrdjasser/vegas-shop/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	srv := &server{db: db, dev: cfg.App.IsDevelopment()}

	mux := http.NewServeMux()
	mux.HandleFunc("/products", srv.handleProducts)
	mux.HandleFunc("/products/", srv.handleProductByID)
	mux.HandleFunc("/orders", srv.handleOrders)
	mux.HandleFunc("/orders/", srv.handleOrderByID)
	mux.HandleFunc("/order-items/", srv.handleOrderItemByID)
	mux.HandleFunc("/dashboard/sales", srv.handleSalesStats)
	mux.HandleFunc("/dashboard/top-products", srv.handleTopProducts)
	mux.HandleFunc("/dashboard/customer", srv.handleCustomerSummary)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s (env: %s)", cfg.Server.Port, cfg.App.Env)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

type server struct {
	db  *sql.DB
	dev bool
}

func (s *server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name          string   `json:"name"`
			Description   string   `json:"description"`
			OriginalPrice *float64 `json:"original_price"`
			SalePrice     *float64 `json:"sale_price"`
			Quantity      int      `json:"quantity"`
			Image         *string  `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		product, err := store.CreateProduct(ctx, s.db, store.CreateProductRequest{
			Name:          req.Name,
			Description:   req.Description,
			OriginalPrice: toDecimal(req.OriginalPrice),
			SalePrice:     toDecimal(req.SalePrice),
			Quantity:      req.Quantity,
			Image:         req.Image,
		})
		if err != nil {
			s.respondStoreError(w, err)
			return
		}

		respondData(w, http.StatusCreated, product)

	case http.MethodGet:
		if search := r.URL.Query().Get("search"); search != "" {
			products, err := store.SearchProducts(ctx, s.db, search)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, products)
			return
		}

		if r.URL.Query().Get("in_stock") == "1" {
			products, err := store.ListInStockProducts(ctx, s.db)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, products)
			return
		}

		if minStr, maxStr := r.URL.Query().Get("min_price"), r.URL.Query().Get("max_price"); minStr != "" && maxStr != "" {
			min, errMin := decimal.NewFromString(minStr)
			max, errMax := decimal.NewFromString(maxStr)
			if errMin != nil || errMax != nil {
				respondError(w, http.StatusBadRequest, "Invalid price range")
				return
			}
			products, err := store.ListProductsByPriceRange(ctx, s.db, min, max)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, products)
			return
		}

		if featured := r.URL.Query().Get("featured"); featured != "" {
			limit, err := strconv.Atoi(featured)
			if err != nil || limit < 1 || limit > 100 {
				limit = 10
			}
			products, err := store.ListFeaturedProducts(ctx, s.db, limit)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, products)
			return
		}

		if lowStock := r.URL.Query().Get("low_stock"); lowStock != "" {
			threshold, err := strconv.Atoi(lowStock)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid low_stock threshold")
				return
			}
			products, err := store.ListLowStockProducts(ctx, s.db, threshold)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, products)
			return
		}

		page, pageSize := pagingParams(r)
		result, err := store.ListProducts(ctx, s.db, page, pageSize)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/products/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "stats":
		stats, err := store.GetProductStats(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, stats)

	case r.Method == http.MethodGet && action == "orders":
		orders, err := store.GetProductOrders(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, orders)

	case r.Method == http.MethodGet && action == "customers":
		customers, err := store.GetProductCustomers(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, customers)

	case r.Method == http.MethodGet && action == "":
		product, err := store.GetProduct(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, product)

	case r.Method == http.MethodPut && action == "stock":
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		affected, err := store.SetStock(ctx, s.db, id, req.Quantity)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Product not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	case r.Method == http.MethodPut && action == "":
		var req struct {
			Name          *string  `json:"name"`
			Description   *string  `json:"description"`
			OriginalPrice *float64 `json:"original_price"`
			SalePrice     *float64 `json:"sale_price"`
			Quantity      *int     `json:"quantity"`
			Image         *string  `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		affected, err := store.UpdateProduct(ctx, s.db, id, store.ProductUpdate{
			Name:          req.Name,
			Description:   req.Description,
			OriginalPrice: toDecimal(req.OriginalPrice),
			SalePrice:     toDecimal(req.SalePrice),
			Quantity:      req.Quantity,
			Image:         req.Image,
		})
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Product not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	case r.Method == http.MethodDelete && action == "":
		affected, err := store.DeleteProduct(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Product not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type orderItemPayload struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (p orderItemPayload) toRequest() store.OrderItemRequest {
	return store.OrderItemRequest{
		ProductID: p.ProductID,
		Quantity:  p.Quantity,
		UnitPrice: decimal.NewFromFloat(p.UnitPrice),
	}
}

func (s *server) handleOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			CustomerName    string             `json:"customer_name"`
			CustomerPhone   string             `json:"customer_phone"`
			CustomerAddress string             `json:"customer_address"`
			Status          string             `json:"status"`
			Notes           *string            `json:"notes"`
			OrderCode       string             `json:"order_code"`
			Items           []orderItemPayload `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		items := make([]store.OrderItemRequest, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, item.toRequest())
		}

		order, err := store.PlaceOrder(ctx, s.db, store.PlaceOrderRequest{
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			CustomerAddress: req.CustomerAddress,
			Status:          req.Status,
			Notes:           req.Notes,
			OrderCode:       req.OrderCode,
			Items:           items,
		})
		if err != nil {
			s.respondStoreError(w, err)
			return
		}

		respondData(w, http.StatusCreated, order)

	case http.MethodGet:
		if search := r.URL.Query().Get("search"); search != "" {
			orders, err := store.SearchOrders(ctx, s.db, search)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, orders)
			return
		}

		if status := r.URL.Query().Get("status"); status != "" {
			orders, err := store.OrdersByStatus(ctx, s.db, status)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, orders)
			return
		}

		if phone := r.URL.Query().Get("phone"); phone != "" {
			orders, err := store.OrdersByPhone(ctx, s.db, phone)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, orders)
			return
		}

		if fromStr, toStr := r.URL.Query().Get("from"), r.URL.Query().Get("to"); fromStr != "" && toStr != "" {
			from, errFrom := time.Parse("2006-01-02", fromStr)
			to, errTo := time.Parse("2006-01-02", toStr)
			if errFrom != nil || errTo != nil {
				respondError(w, http.StatusBadRequest, "Invalid date range, expected YYYY-MM-DD")
				return
			}
			orders, err := store.OrdersByDateRange(ctx, s.db, from, to)
			if err != nil {
				s.respondStoreError(w, err)
				return
			}
			respondData(w, http.StatusOK, orders)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}

		result, err := store.ListOrdersCursor(ctx, s.db, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/orders/")

	// Tracking lookup by human-readable code.
	if code, ok := strings.CutPrefix(rest, "code/"); ok {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		order, err := store.GetOrderByCode(ctx, s.db, code)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, order)
		return
	}

	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	switch {
	case r.Method == http.MethodPost && action == "items":
		var req orderItemPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		item, err := store.AddOrderItem(ctx, s.db, id, req.toRequest())
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusCreated, item)

	case r.Method == http.MethodGet && action == "":
		order, err := store.GetOrder(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, order)

	case r.Method == http.MethodPut && action == "":
		var req struct {
			CustomerName    *string `json:"customer_name"`
			CustomerPhone   *string `json:"customer_phone"`
			CustomerAddress *string `json:"customer_address"`
			Status          *string `json:"status"`
			Notes           *string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		affected, err := store.UpdateOrder(ctx, s.db, id, store.OrderUpdate{
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			CustomerAddress: req.CustomerAddress,
			Status:          req.Status,
			Notes:           req.Notes,
		})
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	case r.Method == http.MethodDelete && action == "":
		affected, err := store.DeleteOrder(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *server) handleOrderItemByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := strings.TrimPrefix(r.URL.Path, "/order-items/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order item ID")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity  *int     `json:"quantity"`
			UnitPrice *float64 `json:"unit_price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		affected, err := store.UpdateOrderItem(ctx, s.db, id, store.OrderItemUpdate{
			Quantity:  req.Quantity,
			UnitPrice: toDecimal(req.UnitPrice),
		})
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	case http.MethodDelete:
		affected, err := store.RemoveOrderItem(ctx, s.db, id)
		if err != nil {
			s.respondStoreError(w, err)
			return
		}
		if affected == 0 {
			respondError(w, http.StatusNotFound, "Order item not found")
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"affected": affected})

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *server) handleSalesStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := store.GetSalesStats(r.Context(), s.db, r.URL.Query().Get("period"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

func (s *server) handleCustomerSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	phone := r.URL.Query().Get("phone")
	if phone == "" {
		respondError(w, http.StatusBadRequest, "Missing phone parameter")
		return
	}

	summary, err := store.GetCustomerSummary(r.Context(), s.db, phone)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "No orders found for this customer")
			return
		}
		s.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, summary)
}

func (s *server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	products, err := store.GetTopSellingProducts(r.Context(), s.db, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, products)
}

// respondStoreError maps the store error taxonomy to HTTP statuses:
// 400 validation, 404 not found, 409 stock, 500 opaque storage error
// (full detail logged server-side, exposed only in development).
func (s *server) respondStoreError(w http.ResponseWriter, err error) {
	var vErr *database.ValidationError
	if errors.As(err, &vErr) {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "validation failed",
			"details": vErr.Violations,
		})
		return
	}

	var sErr *database.StockUnavailableError
	if errors.As(err, &sErr) {
		respondJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "stock unavailable",
			"details": sErr.Shortfalls,
		})
		return
	}

	switch {
	case errors.Is(err, database.ErrStockConflict):
		respondError(w, http.StatusConflict, "Stock was claimed by a concurrent order, please retry")
	case errors.Is(err, database.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, database.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, database.ErrOrderItemNotFound):
		respondError(w, http.StatusNotFound, "Order item not found")
	case errors.Is(err, database.ErrNoFieldsToUpdate):
		respondError(w, http.StatusBadRequest, "No valid fields to update")
	case errors.Is(err, database.ErrDuplicateOrderItem):
		respondError(w, http.StatusBadRequest, "Order already contains this product")
	default:
		log.Printf("Storage error: %v", err)
		if s.dev {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func toDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func pagingParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, map[string]any{"success": true, "data": data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}

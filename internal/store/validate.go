package store

import (
	"fmt"
	"strings"

	"github.com/Gnrdjasser/vegas-shop/internal/models"
)

const (
	maxCustomerNameLen  = 50
	maxCustomerPhoneLen = 15
	maxProductNameLen   = 30
)

// validateOrderHeader returns every violation, not just the first, so
// callers can fix a request in one round trip.
func validateOrderHeader(req PlaceOrderRequest) []string {
	var violations []string

	if strings.TrimSpace(req.CustomerName) == "" {
		violations = append(violations, "customer name is required")
	} else if len(req.CustomerName) > maxCustomerNameLen {
		violations = append(violations, fmt.Sprintf("customer name must be %d characters or less", maxCustomerNameLen))
	}

	if strings.TrimSpace(req.CustomerPhone) == "" {
		violations = append(violations, "customer phone is required")
	} else if len(sanitizePhone(req.CustomerPhone)) > maxCustomerPhoneLen {
		violations = append(violations, fmt.Sprintf("customer phone must be %d characters or less", maxCustomerPhoneLen))
	}

	if strings.TrimSpace(req.CustomerAddress) == "" {
		violations = append(violations, "customer address is required")
	}

	if req.Status != "" && !models.IsValidOrderStatus(req.Status) {
		violations = append(violations, fmt.Sprintf("invalid status %q, must be one of: %s",
			req.Status, strings.Join(models.ValidOrderStatuses, ", ")))
	}

	return violations
}

func validateOrderItems(items []OrderItemRequest) []string {
	var violations []string

	if len(items) == 0 {
		violations = append(violations, "order must contain at least one item")
		return violations
	}

	for i, item := range items {
		if item.ProductID <= 0 {
			violations = append(violations, fmt.Sprintf("item %d: product id is required", i))
		}
		if item.Quantity <= 0 {
			violations = append(violations, fmt.Sprintf("item %d: quantity must be a positive number", i))
		}
		if !item.UnitPrice.IsPositive() {
			violations = append(violations, fmt.Sprintf("item %d: unit price must be a positive number", i))
		}
	}

	return violations
}

// sanitizePhone keeps digits, '+', '-', and spaces, dropping everything
// else, so stored phones match what phone-based lookups search for.
func sanitizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '+' || r == '-' || r == ' ' {
			return r
		}
		return -1
	}, phone)
}

func validateProduct(req CreateProductRequest) []string {
	var violations []string

	if strings.TrimSpace(req.Name) == "" {
		violations = append(violations, "product name is required")
	} else if len(req.Name) > maxProductNameLen {
		violations = append(violations, fmt.Sprintf("product name must be %d characters or less", maxProductNameLen))
	}

	if strings.TrimSpace(req.Description) == "" {
		violations = append(violations, "product description is required")
	}

	if req.Quantity < 0 {
		violations = append(violations, "quantity must be a non-negative number")
	}

	if req.OriginalPrice != nil && req.OriginalPrice.IsNegative() {
		violations = append(violations, "original price must be positive")
	}

	if req.SalePrice != nil && req.SalePrice.IsNegative() {
		violations = append(violations, "sale price must be positive")
	}

	return violations
}

package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// OrderService reads settled orders
type OrderService struct {
	store  LedgerStore
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store LedgerStore) *OrderService {
	return &OrderService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// OrderDetails is an order with its items
type OrderDetails struct {
	*models.Order
	Items []models.OrderItem `json:"items"`
}

// GetOrder retrieves a tenant's order with its items
func (s *OrderService) GetOrder(ctx context.Context, tenantID string, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartTenantSpan(ctx, "OrderService.GetOrder", tenantID)
	defer span.End()

	order, err := s.store.GetOrder(ctx, tenantID, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := s.store.GetOrderItems(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	return &OrderDetails{Order: order, Items: items}, nil
}

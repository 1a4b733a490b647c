package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// OrderUseCase contém a lógica de negócio exposta pela API de pedidos
type OrderUseCase struct {
	carts      *CartStore
	saga       *SagaExecutor
	repository Repository
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(carts *CartStore, saga *SagaExecutor, repository Repository) *OrderUseCase {
	return &OrderUseCase{
		carts:      carts,
		saga:       saga,
		repository: repository,
	}
}

func requireIdentity(id Identity) error {
	if id.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

func (uc *OrderUseCase) CreateCart(ctx context.Context, id Identity) (*Cart, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return uc.carts.CreateCart(ctx, id.UserID)
}

func (uc *OrderUseCase) GetCart(ctx context.Context, id Identity) (*Cart, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return uc.carts.GetCart(ctx, id.UserID)
}

func (uc *OrderUseCase) AddCartItem(ctx context.Context, id Identity, productID string, quantity int) (*Cart, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	cart, err := uc.carts.AddItem(ctx, id.UserID, productID, quantity)
	if err != nil {
		return nil, err
	}
	log.Info().Str("cart_id", cart.ID).Str("product_id", productID).Int("quantity", quantity).Msg("➕ Item added to cart")
	return cart, nil
}

func (uc *OrderUseCase) RemoveCartItem(ctx context.Context, id Identity, itemID string) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	return uc.carts.RemoveItem(ctx, id.UserID, itemID)
}

func (uc *OrderUseCase) ClearCart(ctx context.Context, id Identity, cartID string) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	return uc.carts.ClearItems(ctx, id.UserID, cartID)
}

func (uc *OrderUseCase) PreviewOrder(ctx context.Context, id Identity, req OrderRequest) (*OrderPreview, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return uc.saga.Preview(ctx, id, req)
}

func (uc *OrderUseCase) CreateOrder(ctx context.Context, id Identity, req OrderRequest) (*Order, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return uc.saga.CreateOrder(ctx, id, req)
}

// GetOrder only returns the caller's own orders; anything else is NotFound.
func (uc *OrderUseCase) GetOrder(ctx context.Context, id Identity, orderID string) (*Order, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != id.UserID && !id.HasRole(RoleAdmin) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func (uc *OrderUseCase) ListMyOrders(ctx context.Context, id Identity) ([]Order, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return uc.repository.ListOrdersByOwner(ctx, id.UserID)
}

func (uc *OrderUseCase) ListAllOrders(ctx context.Context, id Identity) ([]Order, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if !id.HasRole(RoleAdmin) {
		return nil, fmt.Errorf("listing all orders requires %s: %w", RoleAdmin, ErrForbidden)
	}
	return uc.repository.ListOrders(ctx)
}

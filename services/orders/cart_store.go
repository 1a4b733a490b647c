package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CartStore owns cart mutation. Every change to a customer's cart runs under
// that customer's lock; a customer has at most one OPEN cart so the owner id
// is the cart lock key. No network calls happen while the lock is held.
type CartStore struct {
	repository Repository
	locks      *keyedMutex
}

func NewCartStore(repository Repository) *CartStore {
	return &CartStore{
		repository: repository,
		locks:      newKeyedMutex(),
	}
}

func (s *CartStore) withLock(ctx context.Context, ownerID string, fn func() error) error {
	unlock, err := s.locks.Lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *CartStore) openCart(ctx context.Context, ownerID string, create bool) (*Cart, error) {
	cart, err := s.repository.GetOpenCart(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrNotFound) || !create {
		return nil, err
	}
	cart = NewCart(ownerID)
	if err := s.repository.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	log.Info().Str("cart_id", cart.ID).Str("user_id", ownerID).Msg("🛒 Cart created")
	return cart, nil
}

// CreateCart returns the caller's OPEN cart, creating it when absent.
func (s *CartStore) CreateCart(ctx context.Context, ownerID string) (*Cart, error) {
	var cart *Cart
	err := s.withLock(ctx, ownerID, func() error {
		var err error
		cart, err = s.openCart(ctx, ownerID, true)
		return err
	})
	return cart, err
}

func (s *CartStore) AddItem(ctx context.Context, ownerID, productID string, quantity int) (*Cart, error) {
	var cart *Cart
	err := s.withLock(ctx, ownerID, func() error {
		var err error
		if cart, err = s.openCart(ctx, ownerID, true); err != nil {
			return err
		}
		if _, err := cart.AddItem(productID, quantity); err != nil {
			return err
		}
		return s.repository.SaveCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem deletes one line. An unknown item id leaves the cart untouched.
func (s *CartStore) RemoveItem(ctx context.Context, ownerID, itemID string) error {
	return s.withLock(ctx, ownerID, func() error {
		cart, err := s.openCart(ctx, ownerID, false)
		if err != nil {
			return err
		}
		if err := cart.RemoveItem(itemID); err != nil {
			return err
		}
		return s.repository.SaveCart(ctx, cart)
	})
}

// ClearItems empties the caller's open cart. cartID is optional; a cartID
// that does not name the open cart, such as one already checked out, leaves
// everything untouched. Clearing a customer without a cart is a no-op.
func (s *CartStore) ClearItems(ctx context.Context, ownerID, cartID string) error {
	return s.withLock(ctx, ownerID, func() error {
		cart, err := s.openCart(ctx, ownerID, false)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cartID != "" && cart.ID != cartID {
			log.Debug().Str("cart_id", cartID).Str("user_id", ownerID).Msg("Ignoring clear of a cart that is not open")
			return nil
		}
		if err := cart.Clear(); err != nil {
			return err
		}
		return s.repository.SaveCart(ctx, cart)
	})
}

func (s *CartStore) GetCart(ctx context.Context, ownerID string) (*Cart, error) {
	return s.repository.GetOpenCart(ctx, ownerID)
}

// Snapshot copies the open cart under its lock, so the copy never observes a
// half-applied mutation.
func (s *CartStore) Snapshot(ctx context.Context, ownerID string) (*Cart, error) {
	var cart *Cart
	err := s.withLock(ctx, ownerID, func() error {
		var err error
		cart, err = s.openCart(ctx, ownerID, false)
		return err
	})
	return cart, err
}

// CheckOut re-acquires the cart lock, marks the cart CHECKED_OUT and hands it
// to persist, which must write it together with the order.
func (s *CartStore) CheckOut(ctx context.Context, ownerID, cartID string, persist func(*Cart) error) error {
	return s.withLock(ctx, ownerID, func() error {
		cart, err := s.repository.GetCart(ctx, cartID)
		if err != nil {
			return err
		}
		if cart.OwnerID != ownerID {
			return fmt.Errorf("cart %s: %w", cartID, ErrNotFound)
		}
		if err := cart.ensureOpen(); err != nil {
			return err
		}
		cart.Status = CartStatusCheckedOut
		cart.touch()
		return persist(cart)
	})
}

// ExpireInactive marks OPEN carts untouched since before as ABANDONED. Carts
// whose lock is busy are skipped until the next sweep.
func (s *CartStore) ExpireInactive(ctx context.Context, before time.Time) (int, error) {
	idle, err := s.repository.ListIdleCarts(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle carts: %w", err)
	}

	expired := 0
	for _, c := range idle {
		unlock, ok := s.locks.TryLock(c.OwnerID)
		if !ok {
			continue
		}
		cart, err := s.repository.GetCart(ctx, c.ID)
		if err == nil && cart.Status == CartStatusOpen && cart.UpdatedAt.Before(before) {
			cart.Status = CartStatusAbandoned
			cart.touch()
			err = s.repository.SaveCart(ctx, cart)
			if err == nil {
				expired++
			}
		}
		unlock()
		if err != nil {
			log.Warn().Err(err).Str("cart_id", c.ID).Msg("⚠️ Failed to expire cart")
		}
	}
	return expired, nil
}

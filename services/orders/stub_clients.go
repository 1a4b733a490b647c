package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StubQuoteClient is an in-memory catalog.
type StubQuoteClient struct {
	mu       sync.Mutex
	products map[string]PriceQuote
	err      error
	calls    int
}

func NewStubQuoteClient() *StubQuoteClient {
	return &StubQuoteClient{products: make(map[string]PriceQuote)}
}

func (s *StubQuoteClient) SetProduct(productID, name string, price decimal.Decimal, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productID] = PriceQuote{
		ProductID:   productID,
		ProductName: name,
		UnitPrice:   price,
		Available:   available,
	}
}

// SetError makes every following Quote call fail with err. nil restores service.
func (s *StubQuoteClient) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StubQuoteClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubQuoteClient) Quote(_ context.Context, productIDs []string) (map[string]PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	now := time.Now().UTC()
	out := make(map[string]PriceQuote, len(productIDs))
	for _, id := range productIDs {
		q, ok := s.products[id]
		if !ok {
			q = PriceQuote{ProductID: id, Failure: QuoteNotFound}
		}
		q.QuotedAt = now
		out[id] = q
	}
	return out, nil
}

// StubAddressClient is an in-memory billing service. Addresses registered for
// the empty owner resolve for everybody.
type StubAddressClient struct {
	mu        sync.Mutex
	addresses map[string]map[string]AddressSnapshot
	err       error
}

func NewStubAddressClient() *StubAddressClient {
	return &StubAddressClient{addresses: make(map[string]map[string]AddressSnapshot)}
}

func (s *StubAddressClient) AddAddress(ownerID string, addr AddressSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addresses[ownerID] == nil {
		s.addresses[ownerID] = make(map[string]AddressSnapshot)
	}
	s.addresses[ownerID][addr.AddressID] = addr
}

func (s *StubAddressClient) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StubAddressClient) Resolve(_ context.Context, ownerID, addressID string) (AddressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return AddressSnapshot{}, s.err
	}
	if addressID == "" {
		return AddressSnapshot{}, fmt.Errorf("address id is required: %w", ErrInvalidArgument)
	}
	for _, owner := range []string{ownerID, ""} {
		if addr, ok := s.addresses[owner][addressID]; ok {
			return addr, nil
		}
	}
	return AddressSnapshot{}, fmt.Errorf("address %s: %w", addressID, ErrNotFound)
}

// StubPaymentClient is an in-memory payment gateway. Payment methods starting
// with "decline" are declined. Captures are idempotent per key.
type StubPaymentClient struct {
	mu       sync.Mutex
	charges  map[string]ChargeResult
	amounts  map[string]decimal.Decimal
	captures map[string]int
	refunds  []string

	failCaptures  int
	failErr       error
	lostResponses int
	refundErr     error
}

func NewStubPaymentClient() *StubPaymentClient {
	return &StubPaymentClient{
		charges:  make(map[string]ChargeResult),
		amounts:  make(map[string]decimal.Decimal),
		captures: make(map[string]int),
	}
}

// FailCaptures makes the next n capture calls fail with err before reaching the gateway.
func (s *StubPaymentClient) FailCaptures(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCaptures, s.failErr = n, err
}

// LoseResponses makes the next n captures succeed at the gateway but answer
// with a timeout, leaving the caller unsure of the outcome.
func (s *StubPaymentClient) LoseResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lostResponses = n
}

func (s *StubPaymentClient) SetRefundError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundErr = err
}

// Captures returns how many times key reached the gateway.
func (s *StubPaymentClient) Captures(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures[key]
}

func (s *StubPaymentClient) Refunds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refunds...)
}

func (s *StubPaymentClient) AuthorizeAndCapture(_ context.Context, amount decimal.Decimal, _, paymentMethodID, idempotencyKey string) (ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCaptures > 0 {
		s.failCaptures--
		return ChargeResult{}, s.failErr
	}
	if idempotencyKey == "" || !amount.IsPositive() {
		return ChargeResult{}, fmt.Errorf("invalid charge request: %w", ErrInvalidArgument)
	}

	s.captures[idempotencyKey]++
	if strings.HasPrefix(paymentMethodID, "decline") {
		return ChargeResult{}, fmt.Errorf("payment method %s: %w", paymentMethodID, ErrDeclined)
	}
	res, ok := s.charges[idempotencyKey]
	if !ok {
		res = ChargeResult{ChargeRef: "ch_" + uuid.New().String(), Outcome: PaymentCaptured}
		s.charges[idempotencyKey] = res
		s.amounts[res.ChargeRef] = amount
	}
	if s.lostResponses > 0 {
		s.lostResponses--
		return ChargeResult{}, fmt.Errorf("capture %s: %w", idempotencyKey, ErrTimeout)
	}
	return res, nil
}

func (s *StubPaymentClient) Refund(_ context.Context, chargeRef string, _ decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundErr != nil {
		return s.refundErr
	}
	if _, ok := s.amounts[chargeRef]; !ok {
		return fmt.Errorf("charge %s: %w", chargeRef, ErrNotFound)
	}
	s.refunds = append(s.refunds, chargeRef)
	return nil
}

// seedStubCatalog fills the stubs used when the service runs without collaborators.
func seedStubCatalog(quotes *StubQuoteClient, addresses *StubAddressClient) {
	quotes.SetProduct("book-go", "The Go Programming Language", decimal.RequireFromString("39.90"), 100)
	quotes.SetProduct("book-ddia", "Designing Data-Intensive Applications", decimal.RequireFromString("45.50"), 100)
	quotes.SetProduct("book-sre", "Site Reliability Engineering", decimal.RequireFromString("29.99"), 3)
	addresses.AddAddress("", AddressSnapshot{
		AddressID:    "addr-home",
		AddressLine1: "1 Main Street",
		City:         "Springfield",
		State:        "IL",
		PostalCode:   "62701",
		Country:      "US",
	})
}

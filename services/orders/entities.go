package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Identity is the authenticated caller, passed explicitly through every call.
type Identity struct {
	UserID string
	Roles  []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

const RoleAdmin = "ADMIN"

// CartStatus representa os possíveis status de um carrinho
type CartStatus string

const (
	CartStatusOpen       CartStatus = "OPEN"
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
	CartStatusAbandoned  CartStatus = "ABANDONED"
)

// CartItem is one product line of a cart. A cart holds at most one item per product.
type CartItem struct {
	ID        string    `json:"cartItemId"`
	CartID    string    `json:"cartId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cart holds the items a customer intends to buy.
type Cart struct {
	ID        string     `json:"cartId"`
	OwnerID   string     `json:"userId"`
	Items     []CartItem `json:"cartItems"`
	Status    CartStatus `json:"status"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// NewCart cria uma nova instância de Cart
func NewCart(ownerID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Items:     []CartItem{},
		Status:    CartStatusOpen,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) ensureOpen() error {
	if c.Status != CartStatusOpen {
		return fmt.Errorf("cart %s is %s: %w", c.ID, c.Status, ErrConflict)
	}
	return nil
}

func (c *Cart) touch() {
	c.Version++
	c.UpdatedAt = time.Now().UTC()
}

// AddItem merges quantity into the existing line for productID, or appends a new line.
func (c *Cart) AddItem(productID string, quantity int) (CartItem, error) {
	if productID == "" {
		return CartItem{}, fmt.Errorf("productId is required: %w", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return CartItem{}, fmt.Errorf("quantity must be a positive integer, got %d: %w", quantity, ErrInvalidArgument)
	}
	if err := c.ensureOpen(); err != nil {
		return CartItem{}, err
	}

	defer c.touch()
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return c.Items[i], nil
		}
	}

	item := CartItem{
		ID:        uuid.New().String(),
		CartID:    c.ID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	c.Items = append(c.Items, item)
	return item, nil
}

func (c *Cart) RemoveItem(itemID string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	idx := slices.IndexFunc(c.Items, func(it CartItem) bool { return it.ID == itemID })
	if idx < 0 {
		return fmt.Errorf("cart item %s: %w", itemID, ErrNotFound)
	}
	c.Items = slices.Delete(c.Items, idx, idx+1)
	c.touch()
	return nil
}

func (c *Cart) Clear() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.Items = []CartItem{}
	c.touch()
	return nil
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	if cp.Items == nil {
		cp.Items = []CartItem{}
	}
	return &cp
}

// QuoteFailure marks a product the catalog could not quote.
type QuoteFailure string

const (
	QuoteOK          QuoteFailure = ""
	QuoteNotFound    QuoteFailure = "NOT_FOUND"
	QuoteUnavailable QuoteFailure = "UNAVAILABLE"
)

// PriceQuote is the catalog's answer for one product, valid only for the attempt that fetched it.
type PriceQuote struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	UnitPrice   decimal.Decimal `json:"price"`
	Available   int             `json:"availableItemCount"`
	QuotedAt    time.Time       `json:"quotedAt"`
	Failure     QuoteFailure    `json:"failure,omitempty"`
}

func (q PriceQuote) OK() bool { return q.Failure == QuoteOK }

// AddressSnapshot is a frozen copy of a billing-service address.
type AddressSnapshot struct {
	AddressID    string `json:"addressId"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
}

// OrderLine holds the unit price frozen at purchase time.
type OrderLine struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order representa um pedido no sistema
type Order struct {
	ID                     string           `json:"orderId"`
	OwnerID                string           `json:"userId"`
	CartID                 string           `json:"cartId"`
	Lines                  []OrderLine      `json:"orderItems"`
	BillingAddress         *AddressSnapshot `json:"billingAddress,omitempty"`
	ShippingAddress        *AddressSnapshot `json:"shippingAddress,omitempty"`
	PaymentMethodID        string           `json:"paymentMethodId"`
	Currency               string           `json:"currency"`
	Status                 OrderStatus      `json:"status"`
	FailureStep            SagaStep         `json:"failureStep,omitempty"`
	FailureReason          string           `json:"failureReason,omitempty"`
	ReconciliationRequired bool             `json:"reconciliationRequired"`
	IdempotencyKey         string           `json:"-"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}

// NewOrder cria uma nova instância de Order em DRAFT
func NewOrder(id, ownerID, cartID, paymentMethodID, currency, idempotencyKey string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:              id,
		OwnerID:         ownerID,
		CartID:          cartID,
		Lines:           []OrderLine{},
		PaymentMethodID: paymentMethodID,
		Currency:        currency,
		Status:          OrderStatusDraft,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Total is always derived from the lines.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		TotalPrice decimal.Decimal `json:"totalPrice"`
	}{alias(o), o.Total()})
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	if o.BillingAddress != nil {
		b := *o.BillingAddress
		cp.BillingAddress = &b
	}
	if o.ShippingAddress != nil {
		s := *o.ShippingAddress
		cp.ShippingAddress = &s
	}
	return &cp
}

// PaymentOutcome representa o resultado de uma tentativa de pagamento
type PaymentOutcome string

const (
	PaymentPending    PaymentOutcome = "PENDING"
	PaymentAuthorized PaymentOutcome = "AUTHORIZED"
	PaymentCaptured   PaymentOutcome = "CAPTURED"
	PaymentFailed     PaymentOutcome = "FAILED"
	PaymentRefunded   PaymentOutcome = "REFUNDED"
)

// PaymentAttempt records one logical charge of an order. Transient retries of
// the same attempt reuse its idempotency key.
type PaymentAttempt struct {
	OrderID        string          `json:"orderId"`
	Number         int             `json:"attempt"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Outcome        PaymentOutcome  `json:"outcome"`
	ChargeRef      string          `json:"chargeReference,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func PaymentIdempotencyKey(orderID string, attempt int) string {
	return fmt.Sprintf("%s-%d", orderID, attempt)
}

// Live reports whether the attempt holds money.
func (p PaymentAttempt) Live() bool {
	return p.Outcome == PaymentAuthorized || p.Outcome == PaymentCaptured
}

// CompletedStep is a saga step that finished, with what is needed to undo it.
type CompletedStep struct {
	Step        SagaStep        `json:"step"`
	ChargeRef   string          `json:"chargeRef,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Compensated bool            `json:"compensated"`
	CompletedAt time.Time       `json:"completedAt"`
}

// SagaRecord is the durable progress log of one order saga.
type SagaRecord struct {
	OrderID   string          `json:"orderId"`
	Current   OrderStatus     `json:"currentStep"`
	Completed []CompletedStep `json:"completedSteps"`
	Terminal  bool            `json:"terminal"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func NewSagaRecord(orderID string) *SagaRecord {
	return &SagaRecord{
		OrderID:   orderID,
		Current:   OrderStatusDraft,
		Completed: []CompletedStep{},
		UpdatedAt: time.Now().UTC(),
	}
}

func (r *SagaRecord) complete(step CompletedStep) {
	step.CompletedAt = time.Now().UTC()
	r.Completed = append(r.Completed, step)
}

func (r *SagaRecord) clone() *SagaRecord {
	cp := *r
	cp.Completed = slices.Clone(r.Completed)
	return &cp
}

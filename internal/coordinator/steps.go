package coordinator

import (
	"context"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/payment-service/provider"
)

// --- CreateOrderStep ---

type CreateOrderStep struct {
	orders OrderManager
	data   domain.CreateOrderData
	order  *domain.Order
}

// NewCreateOrderStep is the constructor for CreateOrderStep
func NewCreateOrderStep(orders OrderManager, data domain.CreateOrderData) *CreateOrderStep {
	return &CreateOrderStep{orders: orders, data: data}
}

func (s *CreateOrderStep) Name() string { return "Create_Order_Step" }

func (s *CreateOrderStep) Execute(ctx context.Context) error {
	order, err := s.orders.CreateOrder(ctx, s.data)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	s.order = order
	return nil
}

// Compensate removes the pending order, or marks it failed if it cannot be
// removed, so no orphan pending order survives a failed checkout.
func (s *CreateOrderStep) Compensate(ctx context.Context) error {
	if s.order == nil {
		return nil
	}
	return s.orders.DiscardPending(ctx, s.order.ID)
}

// Order returns the order written by Execute.
func (s *CreateOrderStep) Order() *domain.Order { return s.order }

// --- RequestIntentStep ---

type RequestIntentStep struct {
	provider provider.Provider
	order    func() *domain.Order
	build    func(*domain.Order) provider.IntentRequest
	intent   *provider.Intent
}

// NewRequestIntentStep requests the provider intent for the order produced
// by an earlier step. build turns that order into the provider request.
func NewRequestIntentStep(p provider.Provider, order func() *domain.Order, build func(*domain.Order) provider.IntentRequest) *RequestIntentStep {
	return &RequestIntentStep{provider: p, order: order, build: build}
}

func (s *RequestIntentStep) Name() string { return "Request_Payment_Intent_Step" }

func (s *RequestIntentStep) Execute(ctx context.Context) error {
	intent, err := s.provider.CreateIntent(ctx, s.build(s.order()))
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	s.intent = intent
	return nil
}

func (s *RequestIntentStep) Compensate(ctx context.Context) error {
	if s.intent == nil {
		return nil
	}
	return s.provider.Cancel(ctx, s.intent.ID)
}

func (s *RequestIntentStep) Intent() *provider.Intent { return s.intent }

// --- AttachReferenceStep ---

type AttachReferenceStep struct {
	orders OrderManager
	order  func() *domain.Order
	intent func() *provider.Intent
}

func NewAttachReferenceStep(orders OrderManager, order func() *domain.Order, intent func() *provider.Intent) *AttachReferenceStep {
	return &AttachReferenceStep{orders: orders, order: order, intent: intent}
}

func (s *AttachReferenceStep) Name() string { return "Attach_Payment_Reference_Step" }

func (s *AttachReferenceStep) Execute(ctx context.Context) error {
	o := s.order()
	ref := s.intent().ID
	if err := s.orders.SetPaymentReference(ctx, o.ID, ref); err != nil {
		return fmt.Errorf("failed to attach payment reference: %w", err)
	}
	o.PaymentReference = ref
	return nil
}

// Compensate is a no-op: the order it touched is discarded by the order step.
func (s *AttachReferenceStep) Compensate(context.Context) error { return nil }

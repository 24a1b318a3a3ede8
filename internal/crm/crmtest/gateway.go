package crmtest

import (
	"context"
	"fmt"
	"sync"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/models"
)

// Gateway records created intents instead of calling the payment processor.
type Gateway struct {
	mu      sync.Mutex
	Err     error
	Intents []models.PaymentIntent
	// Keys holds the idempotency key of every successful call, in order.
	Keys []string
}

var _ crm.Gateway = (*Gateway)(nil)

func (g *Gateway) CreatePaymentIntent(ctx context.Context, idempotencyKey string, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	id := fmt.Sprintf("pi_test_%d", len(g.Intents)+1)
	intent := models.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_abc",
		Amount:       amount * 100,
		Currency:     currency,
		Status:       "requires_payment_method",
		Metadata:     metadata,
	}
	g.Intents = append(g.Intents, intent)
	g.Keys = append(g.Keys, idempotencyKey)
	return &intent, nil
}

// RetrievePaymentIntent returns a previously created intent.
func (g *Gateway) RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, intent := range g.Intents {
		if intent.ID == id {
			intent := intent
			return &intent, nil
		}
	}
	return nil, models.ErrNotFound
}

// internal/payment/stripe.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/webhook"

	"techlab-bot/config"
	"techlab-bot/internal/models"
)

// ErrWebhookSecretMissing is returned by VerifyWebhookSignature when no signing
// secret is configured.
var ErrWebhookSecretMissing = errors.New("webhook secret is not configured")

type StripeClient struct {
	secretKey      string
	publishableKey string
	webhookSecret  string
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:      cfg.SecretKey,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
	}
}

func (s *StripeClient) PublishableKey() string {
	return s.publishableKey
}

// CreatePaymentIntent creates a card payment intent. amount is in whole
// currency units. Retries with the same idempotencyKey return the intent of
// the first call; an empty key gets a random one.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, idempotencyKey string, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	// Ensure we're using the secret key for API operations
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount * 100),
		Currency:           stripe.String(strings.ToLower(currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	params.SetIdempotencyKey(idempotencyKey)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return toPaymentIntent(pi), nil
}

func (s *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", id, err)
	}
	return toPaymentIntent(pi), nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
	}
}

func (s *StripeClient) VerifyWebhookSignature(payload []byte, header string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	return webhook.ConstructEvent(payload, header, s.webhookSecret)
}

// IntentIDFromClientSecret extracts "pi_123" from "pi_123_secret_abc".
func IntentIDFromClientSecret(secret string) (string, bool) {
	i := strings.Index(secret, "_secret_")
	if i <= 0 || !strings.HasPrefix(secret, "pi_") {
		return "", false
	}
	return secret[:i], true
}

// Package paymenttest builds signed gateway webhook payloads for tests.
package paymenttest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// Sign returns a Stripe-Signature header for payload signed with secret at ts.
func Sign(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(webhook.ComputeSignature(ts, payload, secret)))
}

// PaymentIntentEvent encodes a payment_intent.* event about intentID.
func PaymentIntentEvent(eventID, eventType, intentID string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":     intentID,
				"object": "payment_intent",
				"amount": 2500000,
				"status": "succeeded",
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return body
}

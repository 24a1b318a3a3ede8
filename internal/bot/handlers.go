package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stripe/stripe-go/v72"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/models"
)

const maxWebhookBody = 64 << 10

// HandleStripeWebhook reconciles payment_intent events. Once the signature is
// valid the event is always acknowledged; reconciliation errors are only logged.
func (t *TelegramBot) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// Only allow POST requests
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		t.logger.Errorw("Failed to read webhook body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		t.logger.Errorw("Missing Stripe signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := t.verifier.VerifyWebhookSignature(body, signature)
	if err != nil {
		t.logger.Errorw("Failed to verify webhook signature", "error", err)
		http.Error(w, fmt.Sprintf("Webhook Error: %v", err), http.StatusBadRequest)
		return
	}

	if strings.HasPrefix(event.Type, "payment_intent.") {
		var intent stripe.PaymentIntent
		if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil || intent.ID == "" {
			t.logger.Errorw("Failed to parse payment intent", "event_id", event.ID, "type", event.Type)
			http.Error(w, "Failed to parse event data", http.StatusBadRequest)
			return
		}
		t.reconcile(r, crm.PaymentEvent{ID: event.ID, Type: event.Type, IntentID: intent.ID})
	} else {
		t.logger.Infow("Unhandled event type", "event_id", event.ID, "type", event.Type)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (t *TelegramBot) reconcile(r *http.Request, event crm.PaymentEvent) {
	res, err := t.crm.ReconcilePayment(r.Context(), event)
	if errors.Is(err, crm.ErrUnknownPayment) {
		t.logger.Errorw("Payment not found", "event_id", event.ID, "payment_id", event.IntentID)
		return
	}
	if err != nil {
		t.logger.Errorw("Failed to reconcile payment",
			"event_id", event.ID,
			"payment_id", event.IntentID,
			"error", err)
		return
	}

	if res.Changed && res.Status == models.PaymentSucceeded && res.Student != nil {
		t.notifyPaymentConfirmed(res.Student, res.CourseName)
	}
}

func (t *TelegramBot) notifyPaymentConfirmed(student *models.Student, courseName string) {
	texts := t.texts.Texts(student.Language)
	msg := tgbotapi.NewMessage(student.TelegramID, fmt.Sprintf(texts.PaymentConfirmed, courseName))
	if _, err := t.sender.Send(msg); err != nil {
		t.logger.Errorw("Failed to send payment confirmation",
			"student_id", student.ID,
			"error", err)
	}
}

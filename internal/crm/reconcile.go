package crm

import (
	"context"
	"errors"
	"fmt"

	"techlab-bot/internal/models"
)

// Gateway event types handled by ReconcilePayment.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// PaymentEvent is a verified gateway event about a payment intent.
type PaymentEvent struct {
	ID       string
	Type     string
	IntentID string
}

type ReconcileResult struct {
	// Ignored is set for event types that carry no payment transition.
	Ignored bool
	// Duplicate is set when the event id was already applied.
	Duplicate bool
	// Changed is false when the payment already had the target status.
	Changed bool

	Status     models.PaymentStatus
	Payment    *models.Payment
	Enrollment *models.Enrollment
	Student    *models.Student
	CourseName string
}

// TargetStatus maps a gateway event type to the payment status it sets.
func TargetStatus(eventType string) (models.PaymentStatus, bool) {
	switch eventType {
	case EventPaymentSucceeded:
		return models.PaymentSucceeded, true
	case EventPaymentFailed:
		return models.PaymentFailed, true
	case EventPaymentCanceled:
		return models.PaymentCancelled, true
	}
	return "", false
}

// EnrollmentStatusFor derives the enrollment view of a payment status.
func EnrollmentStatusFor(status models.PaymentStatus) (models.EnrollmentStatus, models.EnrollmentPaymentStatus) {
	switch status {
	case models.PaymentSucceeded:
		return models.EnrollmentConfirmed, models.EnrollmentPaymentPaid
	case models.PaymentFailed:
		return models.EnrollmentPending, models.EnrollmentPaymentFailed
	default:
		return models.EnrollmentPending, models.EnrollmentPaymentPending
	}
}

// ReconcilePayment applies a gateway event to the payment and its enrollment
// and appends one payment_updated activity. Replays of the same event id and
// events that do not change the payment status leave no trace.
func (s *Service) ReconcilePayment(ctx context.Context, event PaymentEvent) (*ReconcileResult, error) {
	target, ok := TargetStatus(event.Type)
	if !ok {
		s.logger.Infow("Unhandled event type", "event_id", event.ID, "type", event.Type)
		return &ReconcileResult{Ignored: true}, nil
	}

	res := &ReconcileResult{Status: target}
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		fresh, err := tx.MarkEventProcessed(ctx, event.ID, event.Type)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}

		payment, err := tx.GetPaymentByStripeID(ctx, event.IntentID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, event.IntentID)
		}
		if err != nil {
			return fmt.Errorf("get payment: %w", err)
		}
		res.Payment = payment

		enrollment, err := tx.GetEnrollment(ctx, payment.EnrollmentID)
		if err != nil {
			return fmt.Errorf("get enrollment %d: %w", payment.EnrollmentID, err)
		}
		res.Enrollment = enrollment
		res.CourseName = enrollment.CourseName

		student, err := tx.GetStudent(ctx, enrollment.StudentID)
		if err != nil {
			return fmt.Errorf("get student %d: %w", enrollment.StudentID, err)
		}
		res.Student = student

		if payment.Status == target {
			return nil
		}

		if err := tx.UpdatePaymentStatus(ctx, event.IntentID, target); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		payment.Status = target

		status, paymentStatus := EnrollmentStatusFor(target)
		if err := tx.UpdateEnrollmentStatus(ctx, enrollment.ID, status, paymentStatus); err != nil {
			return fmt.Errorf("update enrollment status: %w", err)
		}
		enrollment.Status = status
		enrollment.PaymentStatus = paymentStatus

		if err := logActivity(ctx, tx, student.ID, models.ActivityPaymentUpdated,
			fmt.Sprintf("Payment %s for %s", target, enrollment.CourseName),
			map[string]interface{}{
				"payment_id": event.IntentID,
				"status":     string(target),
				"amount":     payment.Amount,
				"event_id":   event.ID,
			}); err != nil {
			return err
		}

		res.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Payment event reconciled",
		"event_id", event.ID,
		"payment_id", event.IntentID,
		"status", target,
		"duplicate", res.Duplicate,
		"changed", res.Changed)
	return res, nil
}

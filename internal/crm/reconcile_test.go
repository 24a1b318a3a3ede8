package crm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/models"
)

func TestReconcileSucceeded(t *testing.T) {
	f := newFixture(t)
	enrolled := f.enroll(t, 555)
	before := len(f.repo.Activities())

	res, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{
		ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "Python", res.CourseName)
	assert.Equal(t, enrolled.Student.ID, res.Student.ID)

	payments := f.repo.Payments()
	assert.Equal(t, models.PaymentSucceeded, payments[0].Status)
	enrollments := f.repo.Enrollments()
	assert.Equal(t, models.EnrollmentConfirmed, enrollments[0].Status)
	assert.Equal(t, models.EnrollmentPaymentPaid, enrollments[0].PaymentStatus)

	activities := f.repo.Activities()
	require.Len(t, activities, before+1)
	last := activities[len(activities)-1]
	assert.Equal(t, models.ActivityPaymentUpdated, last.ActivityType)
	assert.Equal(t, "Payment succeeded for Python", last.Description)
	assert.Equal(t, "evt_1", last.Metadata["event_id"])
}

func TestReconcileStatusMapping(t *testing.T) {
	tests := []struct {
		eventType     string
		payment       models.PaymentStatus
		status        models.EnrollmentStatus
		paymentStatus models.EnrollmentPaymentStatus
	}{
		{crm.EventPaymentSucceeded, models.PaymentSucceeded, models.EnrollmentConfirmed, models.EnrollmentPaymentPaid},
		{crm.EventPaymentFailed, models.PaymentFailed, models.EnrollmentPending, models.EnrollmentPaymentFailed},
		{crm.EventPaymentCanceled, models.PaymentCancelled, models.EnrollmentPending, models.EnrollmentPaymentPending},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			f := newFixture(t)
			f.enroll(t, 1)

			_, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt", Type: tt.eventType, IntentID: "pi_test_1"})
			require.NoError(t, err)

			assert.Equal(t, tt.payment, f.repo.Payments()[0].Status)
			e := f.repo.Enrollments()[0]
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.paymentStatus, e.PaymentStatus)
		})
	}
}

func TestReconcileReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 555)
	event := crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"}

	_, err := f.svc.ReconcilePayment(context.Background(), event)
	require.NoError(t, err)
	afterFirst := f.repo.Activities()

	res, err := f.svc.ReconcilePayment(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Changed)
	assert.Equal(t, afterFirst, f.repo.Activities())
	assert.Equal(t, models.EnrollmentConfirmed, f.repo.Enrollments()[0].Status)
}

func TestReconcileSameStatusUnderNewEventID(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 555)

	_, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.NoError(t, err)
	count := len(f.repo.Activities())

	res, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_2", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Changed)
	assert.Len(t, f.repo.Activities(), count)
}

func TestReconcileIgnoresUnknownEventType(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 555)

	res, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: "charge.refunded", IntentID: "pi_test_1"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, models.PaymentPending, f.repo.Payments()[0].Status)
}

func TestReconcileUnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_missing"})
	assert.ErrorIs(t, err, crm.ErrUnknownPayment)

	// The event id is not consumed, so a later retry can still apply it.
	f.enroll(t, 1)
	_, err =f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.NoError(t, err)
}

func TestReconcileRollsBackOnWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 555)
	f.repo.Fail["UpdateEnrollmentStatus"] = errors.New("deadlock detected")

	_, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.Error(t, err)
	assert.Equal(t, models.PaymentPending, f.repo.Payments()[0].Status)

	delete(f.repo.Fail, "UpdateEnrollmentStatus")
	res, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestTargetStatus(t *testing.T) {
	_, ok := crm.TargetStatus("payment_intent.created")
	assert.False(t, ok)

	status, ok := crm.TargetStatus(crm.EventPaymentCanceled)
	assert.True(t, ok)
	assert.Equal(t, models.PaymentCancelled, status)
}

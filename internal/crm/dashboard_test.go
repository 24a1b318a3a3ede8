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

func TestComputeStats(t *testing.T) {
	stats := crm.ComputeStats([]models.Enrollment{
		{Status: models.EnrollmentConfirmed, PaymentStatus: models.EnrollmentPaymentPaid, CourseName: "Python"},
		{Status: models.EnrollmentConfirmed, PaymentStatus: models.EnrollmentPaymentPending, CourseName: "Python"},
		{Status: models.EnrollmentPending, PaymentStatus: models.EnrollmentPaymentPending, CourseName: "Arduino"},
	})

	assert.Equal(t, 3, stats.TotalEnrollments)
	assert.Equal(t, 2, stats.ConfirmedEnrollments)
	assert.Equal(t, 2, stats.PendingPayments)
	assert.Equal(t, 1, stats.PaidEnrollments)
	assert.Equal(t, map[string]int{"Python": 2, "Arduino": 1}, stats.CourseBreakdown)
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := crm.ComputeStats(nil)
	assert.Zero(t, stats.TotalEnrollments)
	assert.NotNil(t, stats.CourseBreakdown)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, 1)
	f.enroll(t, 2)
	_, err := f.svc.ReconcilePayment(context.Background(), crm.PaymentEvent{ID: "evt_1", Type: crm.EventPaymentSucceeded, IntentID: "pi_test_1"})
	require.NoError(t, err)

	d, err := f.svc.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, d.Stats.TotalEnrollments)
	assert.Equal(t, 1, d.Stats.ConfirmedEnrollments)
	assert.Equal(t, 1, d.Stats.PaidEnrollments)
	assert.Equal(t, 1, d.Stats.PendingPayments)
	assert.Equal(t, map[string]int{"Python": 2}, d.Stats.CourseBreakdown)
	assert.Equal(t, crm.StudentStats{TotalStudents: 2, ActiveEnrollments: 1, PendingPayments: 1}, d.StudentStats)

	require.NotEmpty(t, d.Activities)
	assert.Equal(t, models.ActivityPaymentUpdated, d.Activities[0].ActivityType, "most recent first")
	assert.Equal(t, "Aruzhan", d.Activities[0].StudentName)
}

func TestDashboardBoundsActivities(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, f.svc.LogActivity(context.Background(), 0, models.ActivityMessage, "ping", nil))
	}

	d, err := f.svc.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Len(t, d.Activities, crm.RecentActivityLimit)
}

func TestDashboardPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	f.repo.Fail["ListEnrollmentSummaries"] = errors.New("timeout")

	_, err := f.svc.Dashboard(context.Background())
	assert.Error(t, err)
}

func TestStudentsAndDetails(t *testing.T) {
	f := newFixture(t)
	first := f.enroll(t, 1)
	f.enroll(t, 2)

	students, total, err := f.svc.Students(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, students, 1)
	assert.Equal(t, int64(2), students[0].TelegramID, "newest first")

	details, err := f.svc.StudentDetails(context.Background(), first.Student.ID)
	require.NoError(t, err)
	require.Len(t, details.Enrollments, 1)
	require.Len(t, details.Enrollments[0].Payments, 1)
	assert.Equal(t, "pi_test_1", details.Enrollments[0].Payments[0].StripePaymentID)
	assert.Len(t, details.Activities, 2)

	_, err = f.svc.StudentDetails(context.Background(), 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

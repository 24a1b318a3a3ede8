//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"techlab-bot/config"
	"techlab-bot/internal/crm"
	"techlab-bot/internal/crm/crmtest"
	"techlab-bot/internal/models"
	"techlab-bot/pkg/logger"
)

func startPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "techlab",
				"POSTGRES_PASSWORD": "techlab",
				"POSTGRES_DB":       "techlab",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DBConfig{
		Host:         host,
		Port:         port.Port(),
		User:         "techlab",
		Password:     "techlab",
		DBName:       "techlab",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		ConnLifetime: time.Minute,
	}
	require.NoError(t, RunMigrations(cfg.URL(), logger.NewNop()))
	// A second run is a no-op.
	require.NoError(t, RunMigrations(cfg.URL(), logger.NewNop()))

	pg, err := NewPostgresDB(cfg)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgresEnrollAndReconcile(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()

	gateway := &crmtest.Gateway{}
	svc := crm.NewService(pg, gateway, "kzt", logger.NewNop())

	courses, err := svc.ActiveCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 4)

	course, err := svc.CourseByName(ctx, "Python")
	require.NoError(t, err)
	assert.Equal(t, int64(25000), course.Price)

	res, err := svc.Enroll(ctx, crm.EnrollRequest{
		TelegramID: 42, Name: "Dias", Age: 12, Phone: "+77001112233",
		Language: models.LanguageRU, Course: *course,
	})
	require.NoError(t, err)
	assert.Equal(t, "Python", res.Enrollment.CourseName)

	event := crm.PaymentEvent{ID: "evt_pg_1", Type: crm.EventPaymentSucceeded, IntentID: res.Payment.StripePaymentID}
	rec, err := svc.ReconcilePayment(ctx, event)
	require.NoError(t, err)
	assert.True(t, rec.Changed)

	rec, err = svc.ReconcilePayment(ctx, event)
	require.NoError(t, err)
	assert.True(t, rec.Duplicate)

	d, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Stats.ConfirmedEnrollments)
	assert.Equal(t, 1, d.Stats.PaidEnrollments)
	require.Len(t, d.Activities, 3)
	assert.Equal(t, models.ActivityPaymentUpdated, d.Activities[0].ActivityType)
	assert.Equal(t, "Dias", d.Activities[0].StudentName)
	assert.Equal(t, "evt_pg_1", d.Activities[0].Metadata["event_id"])

	details, err := svc.StudentDetails(ctx, res.Student.ID)
	require.NoError(t, err)
	require.Len(t, details.Enrollments, 1)
	assert.Equal(t, models.EnrollmentConfirmed, details.Enrollments[0].Status)
	require.Len(t, details.Enrollments[0].Payments, 1)
	assert.Equal(t, models.PaymentSucceeded, details.Enrollments[0].Payments[0].Status)
}

func TestPostgresEnrollRollsBack(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()

	gateway := &crmtest.Gateway{Err: assert.AnError}
	svc := crm.NewService(pg, gateway, "kzt", logger.NewNop())

	course, err := svc.CourseByName(ctx, "Arduino")
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, crm.EnrollRequest{TelegramID: 7, Name: "Aigerim", Age: 10, Course: *course})
	require.Error(t, err)

	n, err := pg.CountStudents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = pg.GetStudentByTelegramID(ctx, 7)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

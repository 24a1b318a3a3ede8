package crm

import (
	"context"

	"techlab-bot/internal/models"
)

// Repository is the persistence contract of the CRM. Lookups that match no
// row return models.ErrNotFound.
type Repository interface {
	// WithinTx runs fn against a repository bound to a single transaction.
	WithinTx(ctx context.Context, fn func(Repository) error) error

	UpsertStudent(ctx context.Context, student *models.Student) error
	GetStudentByTelegramID(ctx context.Context, telegramID int64) (*models.Student, error)
	GetStudent(ctx context.Context, id int64) (*models.Student, error)
	ListStudents(ctx context.Context, limit, offset int) ([]models.Student, int, error)
	CountStudents(ctx context.Context) (int, error)

	GetActiveCourses(ctx context.Context) ([]models.Course, error)
	GetCourseByName(ctx context.Context, name string) (*models.Course, error)

	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error)
	GetStudentEnrollments(ctx context.Context, studentID int64) ([]models.Enrollment, error)
	ListEnrollmentSummaries(ctx context.Context) ([]models.Enrollment, error)
	UpdateEnrollmentStatus(ctx context.Context, id int64, status models.EnrollmentStatus, paymentStatus models.EnrollmentPaymentStatus) error
	SetEnrollmentPaymentID(ctx context.Context, id int64, paymentIntentID string) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByStripeID(ctx context.Context, stripePaymentID string) (*models.Payment, error)
	GetEnrollmentPayments(ctx context.Context, enrollmentID int64) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, stripePaymentID string, status models.PaymentStatus) error

	LogActivity(ctx context.Context, activity *models.Activity) error
	RecentActivities(ctx context.Context, limit int) ([]models.Activity, error)
	StudentActivities(ctx context.Context, studentID int64) ([]models.Activity, error)

	// MarkEventProcessed records a gateway event id and reports whether it was new.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Gateway creates payment intents at the payment processor. Calls sharing an
// idempotency key create at most one intent.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, idempotencyKey string, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error)
}

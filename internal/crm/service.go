// Package crm implements the course enrollment, payment reconciliation and
// dashboard logic on top of a Repository and a payment Gateway.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"techlab-bot/internal/models"
	"techlab-bot/pkg/logger"
)

type Service struct {
	repo     Repository
	gateway  Gateway
	currency string
	logger   *logger.Logger
}

func NewService(repo Repository, gateway Gateway, currency string, logger *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		currency: currency,
		logger:   logger.Named("crm"),
	}
}

// Step names the part of an enrollment attempt that failed.
type Step string

const (
	StepStudent    Step = "student"
	StepEnrollment Step = "enrollment"
	StepPayment    Step = "payment"
)

// StepError wraps the downstream failure of one enrollment step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrUnknownPayment is returned when a gateway event references no local payment.
var ErrUnknownPayment = errors.New("unknown payment intent")

// LogActivity appends an audit record. studentID may be zero for system events.
func (s *Service) LogActivity(ctx context.Context, studentID int64, activityType models.ActivityType, description string, metadata map[string]interface{}) error {
	return logActivity(ctx, s.repo, studentID, activityType, description, metadata)
}

func logActivity(ctx context.Context, repo Repository, studentID int64, activityType models.ActivityType, description string, metadata map[string]interface{}) error {
	activity := &models.Activity{
		ActivityType: activityType,
		Description:  description,
		Metadata:     metadata,
	}
	if studentID != 0 {
		activity.StudentID = &studentID
	}
	if err := repo.LogActivity(ctx, activity); err != nil {
		return fmt.Errorf("log %s activity: %w", activityType, err)
	}
	return nil
}

func (s *Service) ActiveCourses(ctx context.Context) ([]models.Course, error) {
	courses, err := s.repo.GetActiveCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active courses: %w", err)
	}
	return courses, nil
}

// CourseByName looks up an active course by its exact name.
func (s *Service) CourseByName(ctx context.Context, name string) (*models.Course, error) {
	course, err := s.repo.GetCourseByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get course %q: %w", name, err)
	}
	return course, nil
}

// StudentEnrollments returns the student registered from telegramID and their
// enrollments, most recent first.
func (s *Service) StudentEnrollments(ctx context.Context, telegramID int64) (*models.Student, []models.Enrollment, error) {
	student, err := s.repo.GetStudentByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, nil, fmt.Errorf("get student: %w", err)
	}
	enrollments, err := s.repo.GetStudentEnrollments(ctx, student.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("get enrollments: %w", err)
	}
	return student, enrollments, nil
}

// IdempotencyKey is the payment processor key for the intent of an enrollment.
// Enrollment ids come from a sequence and are never reused.
func IdempotencyKey(enrollmentID int64) string {
	return "enrollment-" + strconv.FormatInt(enrollmentID, 10)
}

type EnrollRequest struct {
	TelegramID int64
	Name       string
	Age        int
	Phone      string
	Language   models.Language
	Course     models.Course
}

type EnrollResult struct {
	Student      models.Student
	Enrollment   models.Enrollment
	Payment      models.Payment
	ClientSecret string
}

// Enroll registers the student, creates the enrollment and its payment intent.
// Either every record of the attempt is stored or none is.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	var res EnrollResult

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		res.Student = models.Student{
			TelegramID: req.TelegramID,
			Name:       req.Name,
			Age:        req.Age,
			Phone:      req.Phone,
			Language:   req.Language,
		}
		if err := tx.UpsertStudent(ctx, &res.Student); err != nil {
			return &StepError{Step: StepStudent, Err: err}
		}
		if err := logActivity(ctx, tx, res.Student.ID, models.ActivityRegistration, "Student profile updated", map[string]interface{}{
			"telegram_id": req.TelegramID,
			"name":        req.Name,
			"age":         req.Age,
			"phone":       req.Phone,
			"language":    string(req.Language),
		}); err != nil {
			return &StepError{Step: StepStudent, Err: err}
		}

		res.Enrollment = models.Enrollment{
			StudentID:     res.Student.ID,
			CourseID:      req.Course.ID,
			Status:        models.EnrollmentPending,
			PaymentStatus: models.EnrollmentPaymentPending,
			CourseName:    req.Course.Name,
		}
		if err := tx.CreateEnrollment(ctx, &res.Enrollment); err != nil {
			return &StepError{Step: StepEnrollment, Err: err}
		}

		intent, err := s.gateway.CreatePaymentIntent(ctx, IdempotencyKey(res.Enrollment.ID), req.Course.Price, s.currency, map[string]string{
			"enrollment_id": strconv.FormatInt(res.Enrollment.ID, 10),
			"student_name":  res.Student.Name,
			"course_name":   req.Course.Name,
		})
		if err != nil {
			return &StepError{Step: StepPayment, Err: err}
		}

		res.Payment = models.Payment{
			EnrollmentID:    res.Enrollment.ID,
			StripePaymentID: intent.ID,
			Amount:          req.Course.Price,
			Currency:        s.currency,
			Status:          models.PaymentPending,
		}
		if err := tx.CreatePayment(ctx, &res.Payment); err != nil {
			return &StepError{Step: StepPayment, Err: err}
		}
		if err := tx.SetEnrollmentPaymentID(ctx, res.Enrollment.ID, intent.ID); err != nil {
			return &StepError{Step: StepPayment, Err: err}
		}
		res.Enrollment.PaymentID = &intent.ID
		res.ClientSecret = intent.ClientSecret

		if err := logActivity(ctx, tx, res.Student.ID, models.ActivityPaymentCreated,
			"Payment created for "+req.Course.Name, map[string]interface{}{
				"amount":     req.Course.Price,
				"currency":   s.currency,
				"payment_id": intent.ID,
			}); err != nil {
			return &StepError{Step: StepPayment, Err: err}
		}
		return nil
	})
	if err != nil {
		s.logger.Errorw("Enrollment failed",
			"telegram_id", req.TelegramID,
			"course", req.Course.Name,
			"error", err)
		return nil, err
	}

	s.logger.Infow("Enrollment created",
		"telegram_id", req.TelegramID,
		"enrollment_id", res.Enrollment.ID,
		"payment_id", res.Payment.StripePaymentID)
	return &res, nil
}

// internal/models/models.go
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by data accessors when no row matches.
var ErrNotFound = errors.New("not found")

type Language string

const (
	LanguageRU Language = "ru"
	LanguageKZ Language = "kz"
)

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentConfirmed EnrollmentStatus = "confirmed"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// EnrollmentPaymentStatus is the payment view kept on the enrollment row.
type EnrollmentPaymentStatus string

const (
	EnrollmentPaymentPending  EnrollmentPaymentStatus = "pending"
	EnrollmentPaymentPaid     EnrollmentPaymentStatus = "paid"
	EnrollmentPaymentFailed   EnrollmentPaymentStatus = "failed"
	EnrollmentPaymentRefunded EnrollmentPaymentStatus = "refunded"
)

// PaymentStatus mirrors the gateway's payment intent lifecycle.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type ActivityType string

const (
	ActivityRegistration   ActivityType = "registration"
	ActivityEnrollment     ActivityType = "enrollment"
	ActivityPaymentCreated ActivityType = "payment_created"
	ActivityPaymentUpdated ActivityType = "payment_updated"
	ActivityMessage        ActivityType = "message"
)

type Student struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	Phone      string    `json:"phone"`
	Language   Language  `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Course struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         int64     `json:"price"`
	DurationWeeks int       `json:"duration_weeks"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

type Enrollment struct {
	ID            int64                   `json:"id"`
	StudentID     int64                   `json:"student_id"`
	CourseID      int64                   `json:"course_id"`
	Status        EnrollmentStatus        `json:"status"`
	PaymentStatus EnrollmentPaymentStatus `json:"payment_status"`
	// PaymentID is the gateway payment intent id, set once a payment exists.
	PaymentID  *string   `json:"payment_id,omitempty"`
	EnrolledAt time.Time `json:"enrolled_at"`
	CourseName string    `json:"course_name,omitempty"`
}

type Payment struct {
	ID              int64         `json:"id"`
	EnrollmentID    int64         `json:"enrollment_id"`
	StripePaymentID string        `json:"stripe_payment_id"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Activity is an append-only audit record.
type Activity struct {
	ID           int64                  `json:"id"`
	StudentID    *int64                 `json:"student_id,omitempty"`
	ActivityType ActivityType           `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	StudentName  string                 `json:"student_name,omitempty"`
}

// PaymentIntent is the gateway's view of an in-progress charge.
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"-"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Package crmtest provides in-memory implementations of the crm interfaces for tests.
package crmtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/models"
)

type state struct {
	students    []models.Student
	courses     []models.Course
	enrollments []models.Enrollment
	payments    []models.Payment
	activities  []models.Activity
	events      map[string]string
}

func (s state) clone() state {
	c := state{
		students:    append([]models.Student(nil), s.students...),
		courses:     append([]models.Course(nil), s.courses...),
		enrollments: append([]models.Enrollment(nil), s.enrollments...),
		payments:    append([]models.Payment(nil), s.payments...),
		activities:  append([]models.Activity(nil), s.activities...),
		events:      make(map[string]string, len(s.events)),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

// Repository is a crm.Repository kept in memory. WithinTx restores the
// previous state when fn fails.
type Repository struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	now  func() time.Time
	// nextID survives rollbacks, like a database sequence.
	nextID int64

	// Fail makes the named method return the given error.
	Fail map[string]error
}

var _ crm.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	base := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	var tick int64
	return &Repository{
		st:   state{events: map[string]string{}},
		Fail: map[string]error{},
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
}

func (r *Repository) fail(method string) error {
	if err, ok := r.Fail[method]; ok {
		return err
	}
	return nil
}

func (r *Repository) id() int64 {
	r.nextID++
	return r.nextID
}

// AddCourse seeds a course and returns it with its id.
func (r *Repository) AddCourse(c models.Course) models.Course {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.CreatedAt = r.now()
	r.st.courses = append(r.st.courses, c)
	return c
}

// AddEnrollment seeds an enrollment as-is.
func (r *Repository) AddEnrollment(e models.Enrollment) models.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.id()
	e.EnrolledAt = r.now()
	r.st.enrollments = append(r.st.enrollments, e)
	return e
}

func (r *Repository) Students() []models.Student {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Student(nil), r.st.students...)
}

func (r *Repository) Enrollments() []models.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Enrollment(nil), r.st.enrollments...)
}

func (r *Repository) Payments() []models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Payment(nil), r.st.payments...)
}

func (r *Repository) Activities() []models.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Activity(nil), r.st.activities...)
}

func (r *Repository) WithinTx(ctx context.Context, fn func(crm.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := r.fail("WithinTx"); err != nil {
		return err
	}

	r.mu.Lock()
	snapshot := r.st.clone()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.st = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Repository) UpsertStudent(ctx context.Context, student *models.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpsertStudent"); err != nil {
		return err
	}
	for i, s := range r.st.students {
		if s.TelegramID == student.TelegramID {
			student.ID = s.ID
			student.CreatedAt = s.CreatedAt
			student.UpdatedAt = r.now()
			r.st.students[i] = *student
			return nil
		}
	}
	student.ID = r.id()
	student.CreatedAt = r.now()
	student.UpdatedAt = student.CreatedAt
	r.st.students = append(r.st.students, *student)
	return nil
}

func (r *Repository) GetStudentByTelegramID(ctx context.Context, telegramID int64) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetStudentByTelegramID"); err != nil {
		return nil, err
	}
	for _, s := range r.st.students {
		if s.TelegramID == telegramID {
			s := s
			return &s, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Repository) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetStudent"); err != nil {
		return nil, err
	}
	for _, s := range r.st.students {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Repository) ListStudents(ctx context.Context, limit, offset int) ([]models.Student, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListStudents"); err != nil {
		return nil, 0, err
	}
	all := append([]models.Student(nil), r.st.students...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []models.Student{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Repository) CountStudents(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CountStudents"); err != nil {
		return 0, err
	}
	return len(r.st.students), nil
}

func (r *Repository) GetActiveCourses(ctx context.Context) ([]models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetActiveCourses"); err != nil {
		return nil, err
	}
	var out []models.Course
	for _, c := range r.st.courses {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repository) GetCourseByName(ctx context.Context, name string) (*models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetCourseByName"); err != nil {
		return nil, err
	}
	for _, c := range r.st.courses {
		if c.IsActive && c.Name == name {
			c := c
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Repository) courseName(id int64) string {
	for _, c := range r.st.courses {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}

func (r *Repository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreateEnrollment"); err != nil {
		return err
	}
	enrollment.ID = r.id()
	enrollment.EnrolledAt = r.now()
	enrollment.CourseName = r.courseName(enrollment.CourseID)
	r.st.enrollments = append(r.st.enrollments, *enrollment)
	return nil
}

func (r *Repository) GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetEnrollment"); err != nil {
		return nil, err
	}
	for _, e := range r.st.enrollments {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Repository) GetStudentEnrollments(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetStudentEnrollments"); err != nil {
		return nil, err
	}
	var out []models.Enrollment
	for i := len(r.st.enrollments) - 1; i >= 0; i-- {
		if r.st.enrollments[i].StudentID == studentID {
			out = append(out, r.st.enrollments[i])
		}
	}
	return out, nil
}

func (r *Repository) ListEnrollmentSummaries(ctx context.Context) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListEnrollmentSummaries"); err != nil {
		return nil, err
	}
	return append([]models.Enrollment(nil), r.st.enrollments...), nil
}

func (r *Repository) UpdateEnrollmentStatus(ctx context.Context, id int64, status models.EnrollmentStatus, paymentStatus models.EnrollmentPaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateEnrollmentStatus"); err != nil {
		return err
	}
	for i := range r.st.enrollments {
		if r.st.enrollments[i].ID == id {
			r.st.enrollments[i].Status = status
			r.st.enrollments[i].PaymentStatus = paymentStatus
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *Repository) SetEnrollmentPaymentID(ctx context.Context, id int64, paymentIntentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("SetEnrollmentPaymentID"); err != nil {
		return err
	}
	for i := range r.st.enrollments {
		if r.st.enrollments[i].ID == id {
			pid := paymentIntentID
			r.st.enrollments[i].PaymentID = &pid
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *Repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreatePayment"); err != nil {
		return err
	}
	for _, p := range r.st.payments {
		if p.StripePaymentID == payment.StripePaymentID {
			return fmt.Errorf("duplicate stripe_payment_id %s", p.StripePaymentID)
		}
	}
	payment.ID = r.id()
	payment.CreatedAt = r.now()
	payment.UpdatedAt = payment.CreatedAt
	r.st.payments = append(r.st.payments, *payment)
	return nil
}

func (r *Repository) GetPaymentByStripeID(ctx context.Context, stripePaymentID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetPaymentByStripeID"); err != nil {
		return nil, err
	}
	for _, p := range r.st.payments {
		if p.StripePaymentID == stripePaymentID {
			p := p
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Repository) GetEnrollmentPayments(ctx context.Context, enrollmentID int64) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetEnrollmentPayments"); err != nil {
		return nil, err
	}
	var out []models.Payment
	for _, p := range r.st.payments {
		if p.EnrollmentID == enrollmentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Repository) UpdatePaymentStatus(ctx context.Context, stripePaymentID string, status models.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdatePaymentStatus"); err != nil {
		return err
	}
	for i := range r.st.payments {
		if r.st.payments[i].StripePaymentID == stripePaymentID {
			r.st.payments[i].Status = status
			r.st.payments[i].UpdatedAt = r.now()
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *Repository) studentName(id *int64) string {
	if id == nil {
		return ""
	}
	for _, s := range r.st.students {
		if s.ID == *id {
			return s.Name
		}
	}
	return ""
}

func (r *Repository) LogActivity(ctx context.Context, activity *models.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("LogActivity"); err != nil {
		return err
	}
	activity.ID = r.id()
	activity.CreatedAt = r.now()
	r.st.activities = append(r.st.activities, *activity)
	return nil
}

func (r *Repository) RecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("RecentActivities"); err != nil {
		return nil, err
	}
	var out []models.Activity
	for i := len(r.st.activities) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.st.activities[i]
		a.StudentName = r.studentName(a.StudentID)
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) StudentActivities(ctx context.Context, studentID int64) ([]models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("StudentActivities"); err != nil {
		return nil, err
	}
	var out []models.Activity
	for i := len(r.st.activities) - 1; i >= 0; i-- {
		a := r.st.activities[i]
		if a.StudentID != nil && *a.StudentID == studentID {
			a.StudentName = r.studentName(a.StudentID)
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("MarkEventProcessed"); err != nil {
		return false, err
	}
	if _, ok := r.st.events[eventID]; ok {
		return false, nil
	}
	r.st.events[eventID] = eventType
	return true, nil
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"techlab-bot/config"
	"techlab-bot/internal/crm"
	"techlab-bot/internal/models"
)

// querier is the subset shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type PostgresDB struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ crm.Repository = (*PostgresDB)(nil)

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	// Set connection pool parameters
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	// Connect with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool, q: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (db *PostgresDB) WithinTx(ctx context.Context, fn func(crm.Repository) error) error {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresDB{pool: db.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (db *PostgresDB) UpsertStudent(ctx context.Context, student *models.Student) error {
	query := `
        INSERT INTO students (telegram_id, name, age, phone, language)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (telegram_id) DO UPDATE
        SET name = $2, age = $3, phone = $4, language = $5, updated_at = NOW()
        RETURNING id, created_at, updated_at
    `

	err := db.q.QueryRow(ctx, query,
		student.TelegramID, student.Name, student.Age, student.Phone, student.Language,
	).Scan(&student.ID, &student.CreatedAt, &student.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}
	return nil
}

const studentColumns = `id, telegram_id, name, age, phone, language, created_at, updated_at`

func scanStudent(row pgx.Row) (*models.Student, error) {
	var s models.Student
	err := row.Scan(&s.ID, &s.TelegramID, &s.Name, &s.Age, &s.Phone, &s.Language, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *PostgresDB) GetStudentByTelegramID(ctx context.Context, telegramID int64) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE telegram_id = $1`

	student, err := scanStudent(db.q.QueryRow(ctx, query, telegramID))
	if err != nil {
		return nil, notFound(err)
	}
	return student, nil
}

func (db *PostgresDB) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	student, err := scanStudent(db.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return student, nil
}

func (db *PostgresDB) ListStudents(ctx context.Context, limit, offset int) ([]models.Student, int, error) {
	total, err := db.CountStudents(ctx)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT ` + studentColumns + `
        FROM students
        ORDER BY created_at DESC, id DESC
        LIMIT $1 OFFSET $2
    `

	rows, err := db.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, *s)
	}
	return students, total, rows.Err()
}

func (db *PostgresDB) CountStudents(ctx context.Context) (int, error) {
	var n int
	if err := db.q.QueryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count students: %w", err)
	}
	return n, nil
}

const courseColumns = `id, name, description, price, duration_weeks, is_active, created_at`

func scanCourse(row pgx.Row) (*models.Course, error) {
	var c models.Course
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Price, &c.DurationWeeks, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *PostgresDB) GetActiveCourses(ctx context.Context) ([]models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE is_active = TRUE ORDER BY name`

	rows, err := db.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get courses: %w", err)
	}
	defer rows.Close()

	var courses []models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, *c)
	}
	return courses, rows.Err()
}

func (db *PostgresDB) GetCourseByName(ctx context.Context, name string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE name = $1 AND is_active = TRUE`

	course, err := scanCourse(db.q.QueryRow(ctx, query, name))
	if err != nil {
		return nil, notFound(err)
	}
	return course, nil
}

func (db *PostgresDB) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	query := `
        WITH inserted AS (
            INSERT INTO enrollments (student_id, course_id, status, payment_status)
            VALUES ($1, $2, $3, $4)
            RETURNING id, enrolled_at, course_id
        )
        SELECT i.id, i.enrolled_at, c.name
        FROM inserted i JOIN courses c ON c.id = i.course_id
    `

	err := db.q.QueryRow(ctx, query,
		enrollment.StudentID, enrollment.CourseID, enrollment.Status, enrollment.PaymentStatus,
	).Scan(&enrollment.ID, &enrollment.EnrolledAt, &enrollment.CourseName)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

const enrollmentSelect = `
    SELECT e.id, e.student_id, e.course_id, e.status, e.payment_status, e.payment_id, e.enrolled_at, c.name
    FROM enrollments e
    JOIN courses c ON c.id = e.course_id
`

func scanEnrollment(row pgx.Row) (*models.Enrollment, error) {
	var e models.Enrollment
	err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.PaymentStatus, &e.PaymentID, &e.EnrolledAt, &e.CourseName)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *PostgresDB) queryEnrollments(ctx context.Context, query string, args ...interface{}) ([]models.Enrollment, error) {
	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func (db *PostgresDB) GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := scanEnrollment(db.q.QueryRow(ctx, enrollmentSelect+` WHERE e.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return enrollment, nil
}

func (db *PostgresDB) GetStudentEnrollments(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	return db.queryEnrollments(ctx, enrollmentSelect+` WHERE e.student_id = $1 ORDER BY e.enrolled_at DESC, e.id DESC`, studentID)
}

func (db *PostgresDB) ListEnrollmentSummaries(ctx context.Context) ([]models.Enrollment, error) {
	return db.queryEnrollments(ctx, enrollmentSelect+` ORDER BY e.id`)
}

func (db *PostgresDB) UpdateEnrollmentStatus(ctx context.Context, id int64, status models.EnrollmentStatus, paymentStatus models.EnrollmentPaymentStatus) error {
	query := `UPDATE enrollments SET status = $2, payment_status = $3 WHERE id = $1`

	tag, err := db.q.Exec(ctx, query, id, status, paymentStatus)
	if err != nil {
		return fmt.Errorf("failed to update enrollment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) SetEnrollmentPaymentID(ctx context.Context, id int64, paymentIntentID string) error {
	tag, err := db.q.Exec(ctx, `UPDATE enrollments SET payment_id = $2 WHERE id = $1`, id, paymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to set enrollment payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
        INSERT INTO payments (enrollment_id, stripe_payment_id, amount, currency, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at
    `

	err := db.q.QueryRow(ctx, query,
		payment.EnrollmentID, payment.StripePaymentID, payment.Amount,
		payment.Currency, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, enrollment_id, stripe_payment_id, amount, currency, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.EnrollmentID, &p.StripePaymentID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *PostgresDB) GetPaymentByStripeID(ctx context.Context, stripePaymentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE stripe_payment_id = $1`

	payment, err := scanPayment(db.q.QueryRow(ctx, query, stripePaymentID))
	if err != nil {
		return nil, notFound(err)
	}
	return payment, nil
}

func (db *PostgresDB) GetEnrollmentPayments(ctx context.Context, enrollmentID int64) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE enrollment_id = $1 ORDER BY created_at`

	rows, err := db.q.Query(ctx, query, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (db *PostgresDB) UpdatePaymentStatus(ctx context.Context, stripePaymentID string, status models.PaymentStatus) error {
	query := `
        UPDATE payments
        SET status = $2, updated_at = NOW()
        WHERE stripe_payment_id = $1
    `

	tag, err := db.q.Exec(ctx, query, stripePaymentID, status)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) LogActivity(ctx context.Context, activity *models.Activity) error {
	metadata := activity.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode activity metadata: %w", err)
	}

	query := `
        INSERT INTO crm_activities (student_id, activity_type, description, metadata)
        VALUES ($1, $2, $3, $4::jsonb)
        RETURNING id, created_at
    `

	err = db.q.QueryRow(ctx, query,
		activity.StudentID, activity.ActivityType, activity.Description, string(raw),
	).Scan(&activity.ID, &activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

const activitySelect = `
    SELECT a.id, a.student_id, a.activity_type, a.description, a.metadata::text, a.created_at, COALESCE(s.name, '')
    FROM crm_activities a
    LEFT JOIN students s ON s.id = a.student_id
`

func (db *PostgresDB) queryActivities(ctx context.Context, query string, args ...interface{}) ([]models.Activity, error) {
	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var (
			a   models.Activity
			raw string
		)
		if err := rows.Scan(&a.ID, &a.StudentID, &a.ActivityType, &a.Description, &raw, &a.CreatedAt, &a.StudentName); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (db *PostgresDB) RecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	return db.queryActivities(ctx, activitySelect+` ORDER BY a.created_at DESC, a.id DESC LIMIT $1`, limit)
}

func (db *PostgresDB) StudentActivities(ctx context.Context, studentID int64) ([]models.Activity, error) {
	return db.queryActivities(ctx, activitySelect+` WHERE a.student_id = $1 ORDER BY a.created_at DESC, a.id DESC`, studentID)
}

func (db *PostgresDB) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
        INSERT INTO processed_events (event_id, event_type)
        VALUES ($1, $2)
        ON CONFLICT (event_id) DO NOTHING
    `

	tag, err := db.q.Exec(ctx, query, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

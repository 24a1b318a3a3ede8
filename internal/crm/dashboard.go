package crm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"techlab-bot/internal/models"
)

// RecentActivityLimit bounds the activity feed of the dashboard.
const RecentActivityLimit = 20

type Stats struct {
	TotalEnrollments     int            `json:"totalEnrollments"`
	ConfirmedEnrollments int            `json:"confirmedEnrollments"`
	PendingPayments      int            `json:"pendingPayments"`
	PaidEnrollments      int            `json:"paidEnrollments"`
	CourseBreakdown      map[string]int `json:"courseBreakdown"`
}

type StudentStats struct {
	TotalStudents     int `json:"totalStudents"`
	ActiveEnrollments int `json:"activeEnrollments"`
	PendingPayments   int `json:"pendingPayments"`
}

type Dashboard struct {
	Activities   []models.Activity `json:"activities"`
	Stats        Stats             `json:"stats"`
	StudentStats StudentStats      `json:"-"`
}

// ComputeStats counts enrollments by status and groups them per course.
func ComputeStats(enrollments []models.Enrollment) Stats {
	stats := Stats{
		TotalEnrollments: len(enrollments),
		CourseBreakdown:  make(map[string]int),
	}
	for _, e := range enrollments {
		if e.Status == models.EnrollmentConfirmed {
			stats.ConfirmedEnrollments++
		}
		switch e.PaymentStatus {
		case models.EnrollmentPaymentPending:
			stats.PendingPayments++
		case models.EnrollmentPaymentPaid:
			stats.PaidEnrollments++
		}
		stats.CourseBreakdown[e.CourseName]++
	}
	return stats
}

// Dashboard loads the activity feed and enrollment counters. Nothing is cached.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		activities    []models.Activity
		enrollments   []models.Enrollment
		totalStudents int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		activities, err = s.repo.RecentActivities(gctx, RecentActivityLimit)
		if err != nil {
			return fmt.Errorf("recent activities: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		enrollments, err = s.repo.ListEnrollmentSummaries(gctx)
		if err != nil {
			return fmt.Errorf("enrollment summaries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		totalStudents, err = s.repo.CountStudents(gctx)
		if err != nil {
			return fmt.Errorf("count students: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Errorw("Failed to load dashboard", "error", err)
		return nil, err
	}

	if activities == nil {
		activities = []models.Activity{}
	}
	stats := ComputeStats(enrollments)
	return &Dashboard{
		Activities: activities,
		Stats:      stats,
		StudentStats: StudentStats{
			TotalStudents:     totalStudents,
			ActiveEnrollments: stats.ConfirmedEnrollments,
			PendingPayments:   stats.PendingPayments,
		},
	}, nil
}

type StudentDetails struct {
	Student     models.Student      `json:"student"`
	Enrollments []EnrollmentDetails `json:"enrollments"`
	Activities  []models.Activity   `json:"activities"`
}

type EnrollmentDetails struct {
	models.Enrollment
	Payments []models.Payment `json:"payments"`
}

// Students pages through registered students, newest first.
func (s *Service) Students(ctx context.Context, limit, offset int) ([]models.Student, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	students, total, err := s.repo.ListStudents(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, total, nil
}

// StudentDetails returns a student's full history.
func (s *Service) StudentDetails(ctx context.Context, id int64) (*StudentDetails, error) {
	student, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	enrollments, err := s.repo.GetStudentEnrollments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get enrollments: %w", err)
	}

	details := &StudentDetails{
		Student:     *student,
		Enrollments: make([]EnrollmentDetails, 0, len(enrollments)),
	}
	for _, e := range enrollments {
		payments, err := s.repo.GetEnrollmentPayments(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("get payments of enrollment %d: %w", e.ID, err)
		}
		if payments == nil {
			payments = []models.Payment{}
		}
		details.Enrollments = append(details.Enrollments, EnrollmentDetails{Enrollment: e, Payments: payments})
	}

	details.Activities, err = s.repo.StudentActivities(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get activities: %w", err)
	}
	if details.Activities == nil {
		details.Activities = []models.Activity{}
	}
	return details, nil
}

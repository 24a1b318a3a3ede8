package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/crm/crmtest"
	"techlab-bot/internal/models"
	"techlab-bot/pkg/logger"
)

type fixture struct {
	repo    *crmtest.Repository
	gateway *crmtest.Gateway
	svc     *crm.Service
	router  chi.Router
	python  models.Course
}

func newFixture(t *testing.T, withIntents bool) *fixture {
	t.Helper()
	f := &fixture{repo: crmtest.NewRepository(), gateway: &crmtest.Gateway{}}
	f.python = f.repo.AddCourse(models.Course{Name: "Python", Price: 25000, DurationWeeks: 12, IsActive: true})
	f.svc = crm.NewService(f.repo, f.gateway, "kzt", logger.NewNop())

	var intents IntentRetriever
	if withIntents {
		intents = f.gateway
	}
	h, err := NewHandler(f.svc, intents, "pk_test_web", logger.NewNop())
	require.NoError(t, err)

	r := chi.NewRouter()
	h.MountPayment(r)
	h.MountCRM(r)
	f.router = r
	return f
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func (f *fixture) enroll(t *testing.T, telegramID int64, name string) *crm.EnrollResult {
	t.Helper()
	res, err := f.svc.Enroll(context.Background(), crm.EnrollRequest{
		TelegramID: telegramID,
		Name:       name,
		Age:        10,
		Phone:      "+77010000000",
		Language:   models.LanguageRU,
		Course:     f.python,
	})
	require.NoError(t, err)
	return res
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPaymentPageRequiresClientSecret(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get("/payment")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing client_secret parameter")
}

func TestPaymentPageShowsCourseSummary(t *testing.T) {
	f := newFixture(t, true)
	res := f.enroll(t, 1, "Aruzhan")

	rec := f.get("/payment?client_secret=" + res.ClientSecret)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, body, "https://js.stripe.com/v3/")
	assert.Contains(t, body, "pk_test_web")
	assert.Contains(t, body, res.ClientSecret)
	assert.Contains(t, body, "Python")
	assert.Contains(t, body, "25 000 KZT")
}

func TestPaymentPageWithoutRetriever(t *testing.T) {
	f := newFixture(t, false)
	res := f.enroll(t, 1, "Aruzhan")

	rec := f.get("/payment?client_secret=" + res.ClientSecret)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), res.ClientSecret)
	assert.NotContains(t, rec.Body.String(), "25 000")
}

func TestPaymentPageUnknownIntentStillRenders(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get("/payment?client_secret=pi_missing_secret_xyz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pi_missing_secret_xyz")
}

func TestPaymentPageEscapesClientSecret(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get("/payment?client_secret=%22%3C%2Fscript%3E%3Cscript%3Ealert(1)%3C%2Fscript%3E")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)")
}

func TestPaymentSuccessPage(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get("/payment-success")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Оплата прошла успешно!")
	assert.Contains(t, rec.Body.String(), "Алихана Бокейхана 17/1")
}

func TestDashboardPage(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, 1, "Aruzhan")
	require.NoError(t, f.svc.LogActivity(context.Background(), 0, models.ActivityMessage, "anonymous question", nil))

	rec := f.get("/crm")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Всего студентов")
	assert.Contains(t, body, "Aruzhan")
	assert.Contains(t, body, "Неизвестный пользователь")
	assert.Contains(t, body, "💳")
	assert.Contains(t, body, "💬")
	assert.Contains(t, body, `content="30"`)
}

func TestDashboardPageError(t *testing.T) {
	f := newFixture(t, true)
	f.repo.Fail["CountStudents"] = assert.AnError

	rec := f.get("/crm")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error loading dashboard")
}

func TestDashboardAPI(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, 1, "Aruzhan")
	f.enroll(t, 2, "Dias")

	rec := f.get("/api/crm/dashboard")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.True(t, resp.Success)

	var data struct {
		Dashboard crm.Dashboard    `json:"dashboard"`
		Stats     crm.StudentStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 2, data.Dashboard.Stats.TotalEnrollments)
	assert.Equal(t, map[string]int{"Python": 2}, data.Dashboard.Stats.CourseBreakdown)
	assert.NotEmpty(t, data.Dashboard.Activities)
	assert.Equal(t, crm.StudentStats{TotalStudents: 2, PendingPayments: 2}, data.Stats)
}

func TestDashboardAPIError(t *testing.T) {
	f := newFixture(t, true)
	f.repo.Fail["RecentActivities"] = assert.AnError

	rec := f.get("/api/crm/dashboard")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestStudentsAPI(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, 1, "Aruzhan")
	f.enroll(t, 2, "Dias")
	f.enroll(t, 3, "Madina")

	rec := f.get("/api/crm/students?limit=2&offset=0")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.True(t, resp.Success)

	var data struct {
		Students []models.Student `json:"students"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 3, data.Total)
	require.Len(t, data.Students, 2)
	assert.Equal(t, "Madina", data.Students[0].Name, "newest first")
}

func TestStudentsAPIIgnoresBadPaging(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, 1, "Aruzhan")

	rec := f.get("/api/crm/students?limit=abc&offset=-4")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestStudentAPI(t *testing.T) {
	f := newFixture(t, true)
	res := f.enroll(t, 1, "Aruzhan")

	rec := f.get("/api/crm/students/" + strconv.FormatInt(res.Student.ID, 10))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.True(t, resp.Success)

	var details crm.StudentDetails
	require.NoError(t, json.Unmarshal(resp.Data, &details))
	assert.Equal(t, "Aruzhan", details.Student.Name)
	require.Len(t, details.Enrollments, 1)
	require.Len(t, details.Enrollments[0].Payments, 1)
	assert.Equal(t, "pi_test_1", details.Enrollments[0].Payments[0].StripePaymentID)
	assert.Len(t, details.Activities, 2)
}

func TestStudentAPIErrors(t *testing.T) {
	f := newFixture(t, true)

	tests := map[string]struct {
		path   string
		status int
	}{
		"not a number": {"/api/crm/students/abc", http.StatusBadRequest},
		"missing":      {"/api/crm/students/9999", http.StatusNotFound},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.get(tc.path)
			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, decode(t, rec).Success)
		})
	}
}

func TestActivityIcon(t *testing.T) {
	assert.Equal(t, "👤", activityIcon(models.ActivityRegistration))
	assert.Equal(t, "💰", activityIcon(models.ActivityPaymentUpdated))
	assert.Equal(t, "📝", activityIcon("something_else"))
}

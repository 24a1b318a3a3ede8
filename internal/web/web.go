// internal/web/web.go
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/locale"
	"techlab-bot/internal/models"
	"techlab-bot/internal/payment"
	"techlab-bot/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// DashboardSource is the read side of the CRM.
type DashboardSource interface {
	Dashboard(ctx context.Context) (*crm.Dashboard, error)
	Students(ctx context.Context, limit, offset int) ([]models.Student, int, error)
	StudentDetails(ctx context.Context, id int64) (*crm.StudentDetails, error)
}

// IntentRetriever looks up a payment intent to show the course being paid for.
type IntentRetriever interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
}

type Handler struct {
	crm            DashboardSource
	intents        IntentRetriever
	publishableKey string
	tmpl           *template.Template
	logger         *logger.Logger
}

// NewHandler parses the embedded templates. intents may be nil, in which case
// the payment page is rendered without the course summary.
func NewHandler(source DashboardSource, intents IntentRetriever, publishableKey string, log *logger.Logger) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"activityIcon": activityIcon,
		"formatTime": func(t time.Time) string {
			return t.Format("02.01.2006 15:04")
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{
		crm:            source,
		intents:        intents,
		publishableKey: publishableKey,
		tmpl:           tmpl,
		logger:         log.Named("web"),
	}, nil
}

// MountPayment registers the public payment pages.
func (h *Handler) MountPayment(r chi.Router) {
	r.Get("/payment", h.PaymentPage)
	r.Get("/payment-success", h.PaymentSuccess)
}

// MountCRM registers the dashboard page and its JSON API.
func (h *Handler) MountCRM(r chi.Router) {
	r.Get("/crm", h.DashboardPage)
	r.Route("/api/crm", func(r chi.Router) {
		r.Get("/dashboard", h.DashboardAPI)
		r.Get("/students", h.StudentsAPI)
		r.Get("/students/{id}", h.StudentAPI)
	})
}

type paymentPage struct {
	ClientSecret   string
	PublishableKey string
	CourseName     string
	Amount         string
	Currency       string
}

func (h *Handler) PaymentPage(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("client_secret")
	if secret == "" {
		http.Error(w, "Missing client_secret parameter", http.StatusBadRequest)
		return
	}

	page := paymentPage{ClientSecret: secret, PublishableKey: h.publishableKey}
	if id, ok := payment.IntentIDFromClientSecret(secret); ok && h.intents != nil {
		intent, err := h.intents.RetrievePaymentIntent(r.Context(), id)
		if err != nil {
			h.logger.Warnw("Failed to retrieve payment intent", "payment_id", id, "error", err)
		} else {
			page.CourseName = intent.Metadata["course_name"]
			page.Amount = locale.FormatPrice(intent.Amount / 100)
			page.Currency = strings.ToUpper(intent.Currency)
		}
	}
	h.render(w, "payment.html", page)
}

func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	h.render(w, "payment_success.html", nil)
}

func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.crm.Dashboard(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to load dashboard", "error", err)
		http.Error(w, "Error loading dashboard", http.StatusInternalServerError)
		return
	}
	h.render(w, "crm.html", dashboard)
}

func (h *Handler) DashboardAPI(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.crm.Dashboard(r.Context())
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"dashboard": dashboard,
		"stats":     dashboard.StudentStats,
	}})
}

func (h *Handler) StudentsAPI(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	students, total, err := h.crm.Students(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"students": students,
		"total":    total,
	}})
}

func (h *Handler) StudentAPI(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid student id"})
		return
	}

	details, err := h.crm.StudentDetails(r.Context(), id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Error: "student not found"})
	case err != nil:
		h.fail(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: details})
	}
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	h.logger.Errorw("CRM API request failed", "error", err)
	writeJSON(w, status, envelope{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// render executes into a buffer so a template error still yields a clean 500.
func (h *Handler) render(w http.ResponseWriter, name string, data interface{}) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Errorw("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func activityIcon(t models.ActivityType) string {
	switch t {
	case models.ActivityRegistration:
		return "👤"
	case models.ActivityPaymentCreated:
		return "💳"
	case models.ActivityPaymentUpdated:
		return "💰"
	case models.ActivityEnrollment:
		return "📚"
	case models.ActivityMessage:
		return "💬"
	default:
		return "📝"
	}
}

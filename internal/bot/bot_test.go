package bot

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"techlab-bot/config"
	"techlab-bot/internal/crm"
	"techlab-bot/internal/crm/crmtest"
	"techlab-bot/internal/locale"
	"techlab-bot/internal/models"
	"techlab-bot/internal/payment"
	"techlab-bot/internal/session"
	"techlab-bot/pkg/logger"
)

const (
	testChatID        = int64(1001)
	testWebhookSecret = "whsec_bot_test"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, msg)
	}
	return tgbotapi.Message{MessageID: len(f.messages)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages, "no message sent")
	return f.messages[len(f.messages)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeConsultant struct {
	answer string
	err    error
	panics bool
	asked  []string
}

func (c *fakeConsultant) AnswerQuestion(ctx context.Context, lang models.Language, question string, courses []models.Course) (string, error) {
	if c.panics {
		panic("consultant exploded")
	}
	c.asked = append(c.asked, question)
	return c.answer, c.err
}

type harness struct {
	bot      *TelegramBot
	sender   *fakeSender
	repo     *crmtest.Repository
	gateway  *crmtest.Gateway
	sessions session.Store
	texts    *locale.Catalog
}

func newHarness(t *testing.T, consultant Consultant) *harness {
	t.Helper()

	catalog, err := locale.Load()
	require.NoError(t, err)

	repo := crmtest.NewRepository()
	repo.AddCourse(models.Course{Name: "Python", Description: "Основы Python", Price: 25000, DurationWeeks: 12, IsActive: true})
	repo.AddCourse(models.Course{Name: "Arduino", Price: 28000, DurationWeeks: 10, IsActive: true})
	gateway := &crmtest.Gateway{}

	h := &harness{
		sender:   &fakeSender{},
		repo:     repo,
		gateway:  gateway,
		sessions: session.NewMemoryStore(),
		texts:    catalog,
	}
	h.bot = New(h.sender, Options{
		CRM: crm.NewService(repo, gateway, "kzt", logger.NewNop()),
		Verifier: payment.NewStripeClient(config.StripeConfig{
			SecretKey:     "sk_test_bot",
			WebhookSecret: testWebhookSecret,
		}),
		Sessions:    h.sessions,
		Texts:       catalog,
		Consultant:  consultant,
		FrontendURL: "https://techlab.kz/",
		Logger:      logger.NewNop(),
	})
	return h
}

func (h *harness) command(name string) {
	text := "/" + name
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: testChatID},
		From:     &tgbotapi.User{ID: testChatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}})
}

func (h *harness) text(text string) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: testChatID},
		From: &tgbotapi.User{ID: testChatID},
	}})
}

func (h *harness) callback(data string) {
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		From:    &tgbotapi.User{ID: testChatID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
	}})
}

func (h *harness) session() session.Session {
	sess, release := h.sessions.Acquire(testChatID)
	defer release()
	return *sess
}

func (h *harness) ru() *locale.Texts {
	return h.texts.Texts(models.LanguageRU)
}

// registerUntilCourse walks the dialogue up to COURSE_SELECTION.
func (h *harness) registerUntilCourse(t *testing.T) {
	t.Helper()
	h.command("start")
	h.callback("lang_ru")
	h.text(h.ru().Menu.Register)
	h.text("Aruzhan")
	h.text("11")
	h.text("+77011234567")
	require.Equal(t, session.StateCourseSelection, h.session().State)
}

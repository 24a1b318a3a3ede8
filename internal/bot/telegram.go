package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stripe/stripe-go/v72"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/locale"
	"techlab-bot/internal/models"
	"techlab-bot/internal/session"
	"techlab-bot/pkg/logger"
)

// Sender is the part of the Telegram API the bot writes to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// CRM is the enrollment and payment backend used by the bot.
type CRM interface {
	ActiveCourses(ctx context.Context) ([]models.Course, error)
	CourseByName(ctx context.Context, name string) (*models.Course, error)
	Enroll(ctx context.Context, req crm.EnrollRequest) (*crm.EnrollResult, error)
	StudentEnrollments(ctx context.Context, telegramID int64) (*models.Student, []models.Enrollment, error)
	ReconcilePayment(ctx context.Context, event crm.PaymentEvent) (*crm.ReconcileResult, error)
	LogActivity(ctx context.Context, studentID int64, activityType models.ActivityType, description string, metadata map[string]interface{}) error
}

// Consultant answers free-form questions typed in the main menu.
type Consultant interface {
	AnswerQuestion(ctx context.Context, lang models.Language, question string, courses []models.Course) (string, error)
}

// WebhookVerifier authenticates payment gateway webhooks.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, header string) (stripe.Event, error)
}

type Options struct {
	CRM         CRM
	Verifier    WebhookVerifier
	Sessions    session.Store
	Texts       *locale.Catalog
	Consultant  Consultant // optional
	FrontendURL string
	Logger      *logger.Logger
}

type TelegramBot struct {
	api         *tgbotapi.BotAPI
	sender      Sender
	crm         CRM
	verifier    WebhookVerifier
	sessions    session.Store
	texts       *locale.Catalog
	consultant  Consultant
	frontendURL string
	logger      *logger.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	loopDone chan struct{}
	cancel   context.CancelFunc
}

func NewTelegramBot(token string, opts Options) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	t := New(api, opts)
	t.api = api
	t.logger.Infow("Authorized on Telegram", "username", api.Self.UserName)
	return t, nil
}

// New builds a bot that writes through sender. Start is only available for
// bots created by NewTelegramBot.
func New(sender Sender, opts Options) *TelegramBot {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &TelegramBot{
		sender:      sender,
		crm:         opts.CRM,
		verifier:    opts.Verifier,
		sessions:    opts.Sessions,
		texts:       opts.Texts,
		consultant:  opts.Consultant,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		logger:      log.Named("bot"),
	}
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	if t.api == nil {
		return fmt.Errorf("telegram API client is not configured")
	}

	// First, remove any existing webhook to ensure we can use polling
	t.logger.Infow("Removing any existing webhook")
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.api.GetUpdatesChan(updateConfig)
	t.logger.Infow("Started receiving Telegram updates")

	t.serve(ctx, updates)
	return nil
}

// serve dispatches updates until the channel is closed. Handlers run under a
// context that is not cancelled with ctx; Stop cancels it when its deadline expires.
func (t *TelegramBot) serve(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopDone := make(chan struct{})

	t.mu.Lock()
	t.cancel = cancel
	t.loopDone = loopDone
	t.mu.Unlock()

	go t.handleUpdates(handlerCtx, updates, loopDone)
}

// handleUpdates processes incoming updates from Telegram, one goroutine each.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, loopDone chan<- struct{}) {
	defer close(loopDone)
	for update := range updates {
		t.wg.Add(1)
		go func(update tgbotapi.Update) {
			defer t.wg.Done()
			t.HandleUpdate(ctx, update)
		}(update)
	}
}

// HandleUpdate dispatches a single update. A panic in a handler is logged and
// answered with the generic apology.
func (t *TelegramBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("Recovered from panic while processing update",
				"update_id", update.UpdateID,
				"error", r)
			if chatID, ok := chatOf(update); ok {
				t.send(tgbotapi.NewMessage(chatID, t.texts.Texts(t.languageOf(chatID)).GenericError))
			}
		}
	}()

	switch {
	case update.Message != nil:
		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func chatOf(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

// languageOf reads the chat language. Handlers release the session before a
// panic reaches HandleUpdate, so this does not deadlock.
func (t *TelegramBot) languageOf(chatID int64) models.Language {
	sess, release := t.sessions.Acquire(chatID)
	defer release()
	return sess.Language
}

func (t *TelegramBot) send(msg tgbotapi.Chattable) {
	if _, err := t.sender.Send(msg); err != nil {
		t.logger.Errorw("Failed to send message", "error", err)
	}
}

// Stop stops polling, waits for the update loop to drain and then for
// in-flight handlers. If ctx expires first, handlers are cancelled.
func (t *TelegramBot) Stop(ctx context.Context) error {
	if t.api != nil {
		t.api.StopReceivingUpdates()
	}

	t.mu.Lock()
	loopDone, cancel := t.loopDone, t.cancel
	t.mu.Unlock()
	if loopDone == nil {
		return nil
	}
	defer cancel()

	// No more wg.Add calls once the loop has returned.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-loopDone:
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"techlab-bot/internal/crm"
	"techlab-bot/internal/locale"
	"techlab-bot/internal/models"
	"techlab-bot/internal/session"
)

const languageCallbackPrefix = "lang_"

func languageKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Русский", languageCallbackPrefix+string(models.LanguageRU))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Қазақша", languageCallbackPrefix+string(models.LanguageKZ))),
	)
}

func menuKeyboard(texts *locale.Texts) tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(texts.Menu.Register)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(texts.Menu.Courses)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(texts.Menu.FAQ)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(texts.Menu.MyCourses)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func courseKeyboard(texts *locale.Texts, courses []models.Course) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(courses)+1)
	for _, c := range courses {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(c.Name)))
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(texts.Back)))

	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

func (t *TelegramBot) reply(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	t.send(msg)
}

func (t *TelegramBot) sendLanguagePrompt(chatID int64) {
	t.reply(chatID, locale.LanguagePrompt, languageKeyboard())
}

func (t *TelegramBot) sendMainMenu(chatID int64, texts *locale.Texts) {
	t.reply(chatID, texts.Start, menuKeyboard(texts))
}

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	sess, release := t.sessions.Acquire(chatID)
	defer release()

	t.logger.Infow("Handling command", "command", message.Command(), "chat_id", chatID)

	switch message.Command() {
	case "start":
		sess.ResetRegistration()
		sess.State = session.StateLanguageSelection
		t.sendLanguagePrompt(chatID)
	default:
		if sess.State == session.StateLanguageSelection {
			t.sendLanguagePrompt(chatID)
			return
		}
		t.reply(chatID, t.texts.Texts(sess.Language).ChooseMenu, nil)
	}
}

// handleCallbackQuery processes the language choice buttons.
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Acknowledge the callback
	if _, err := t.sender.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Errorw("Failed to answer callback query", "error", err)
	}

	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	chatID := query.Message.Chat.ID

	code := strings.TrimPrefix(query.Data, languageCallbackPrefix)
	lang, ok := locale.ParseLanguage(code)
	if !strings.HasPrefix(query.Data, languageCallbackPrefix) || !ok {
		t.logger.Infow("Ignoring callback", "chat_id", chatID, "data", query.Data)
		return
	}

	sess, release := t.sessions.Acquire(chatID)
	defer release()

	sess.Language = lang
	sess.ToMainMenu()
	t.sendMainMenu(chatID, t.texts.Texts(lang))
}

// handleMessage processes regular messages based on the session state
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	sess, release := t.sessions.Acquire(chatID)
	defer release()

	texts := t.texts.Texts(sess.Language)

	switch sess.State {
	case session.StateLanguageSelection:
		t.sendLanguagePrompt(chatID)

	case session.StateMainMenu:
		t.handleMainMenu(ctx, message, sess, texts)

	case session.StateRegistrationName:
		sess.Registration.Name = text
		sess.State = session.StateRegistrationAge
		t.reply(chatID, texts.AskAge, tgbotapi.NewRemoveKeyboard(true))

	case session.StateRegistrationAge:
		age, err := strconv.Atoi(text)
		if err != nil || age < session.MinAge || age > session.MaxAge {
			t.reply(chatID, texts.InvalidAge, nil)
			return
		}
		sess.Registration.Age = age
		sess.State = session.StateRegistrationPhone
		t.reply(chatID, texts.AskPhone, nil)

	case session.StateRegistrationPhone:
		sess.Registration.Phone = text
		t.presentCourses(ctx, chatID, sess, texts)

	case session.StateCourseSelection:
		t.handleCourseSelection(ctx, chatID, text, sess, texts)

	default:
		t.logger.Errorw("Unknown session state", "chat_id", chatID, "state", sess.State)
		sess.ToMainMenu()
		t.reply(chatID, texts.ChooseMenu, menuKeyboard(texts))
	}
}

func (t *TelegramBot) handleMainMenu(ctx context.Context, message *tgbotapi.Message, sess *session.Session, texts *locale.Texts) {
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	action, ok := texts.MenuAction(text)
	if !ok {
		t.handleFreeText(ctx, chatID, text, sess, texts)
		return
	}

	switch action {
	case locale.MenuRegister:
		sess.ResetRegistration()
		sess.State = session.StateRegistrationName
		t.reply(chatID, texts.AskName, tgbotapi.NewRemoveKeyboard(true))

	case locale.MenuCourses:
		courses, err := t.crm.ActiveCourses(ctx)
		if err != nil {
			t.logger.Errorw("Failed to list courses", "chat_id", chatID, "error", err)
			t.reply(chatID, texts.GenericError, nil)
			return
		}
		t.reply(chatID, formatCourses(texts, courses), nil)

	case locale.MenuFAQ:
		t.reply(chatID, texts.FAQ, nil)

	case locale.MenuMyCourses:
		t.handleMyCourses(ctx, chatID, texts)
	}
}

func formatCourses(texts *locale.Texts, courses []models.Course) string {
	if len(courses) == 0 {
		return texts.NoCourses
	}
	var b strings.Builder
	b.WriteString(texts.CoursesHeader)
	for _, c := range courses {
		description := c.Description
		if description == "" {
			description = texts.NoDescription
		}
		fmt.Fprintf(&b, texts.CourseEntry, c.Name, description, locale.FormatPrice(c.Price), c.DurationWeeks)
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleFreeText answers unmatched main menu text through the consultant when
// one is configured.
func (t *TelegramBot) handleFreeText(ctx context.Context, chatID int64, text string, sess *session.Session, texts *locale.Texts) {
	if t.consultant == nil || text == "" {
		t.reply(chatID, texts.ChooseMenu, menuKeyboard(texts))
		return
	}

	courses, err := t.crm.ActiveCourses(ctx)
	if err != nil {
		t.logger.Errorw("Failed to load courses for consultant", "error", err)
	}

	answer, err := t.consultant.AnswerQuestion(ctx, sess.Language, text, courses)
	if err != nil {
		t.logger.Errorw("Consultant failed", "chat_id", chatID, "error", err)
		t.reply(chatID, texts.ChooseMenu, menuKeyboard(texts))
		return
	}

	if err := t.crm.LogActivity(ctx, 0, models.ActivityMessage, "Consultant question answered", map[string]interface{}{
		"telegram_id": chatID,
		"question":    text,
		"language":    string(sess.Language),
	}); err != nil {
		t.logger.Errorw("Failed to log consultant activity", "error", err)
	}

	t.reply(chatID, answer, menuKeyboard(texts))
}

func (t *TelegramBot) handleMyCourses(ctx context.Context, chatID int64, texts *locale.Texts) {
	_, enrollments, err := t.crm.StudentEnrollments(ctx, chatID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		t.reply(chatID, texts.NotRegistered, nil)
		return
	case err != nil:
		t.logger.Errorw("Failed to load enrollments", "chat_id", chatID, "error", err)
		t.reply(chatID, texts.GenericError, nil)
		return
	case len(enrollments) == 0:
		t.reply(chatID, texts.NoEnrollments, nil)
		return
	}

	var b strings.Builder
	b.WriteString(texts.MyCoursesHeader)
	for i, e := range enrollments {
		fmt.Fprintf(&b, texts.MyCourseEntry,
			i+1, enrollmentEmoji(e.Status), e.CourseName,
			texts.EnrollmentStatusLabel(e.Status),
			paymentEmoji(e.PaymentStatus), texts.PaymentStatusLabel(e.PaymentStatus),
			e.EnrolledAt.Format("02.01.2006"))
	}
	t.reply(chatID, strings.TrimRight(b.String(), "\n"), nil)
}

func enrollmentEmoji(s models.EnrollmentStatus) string {
	switch s {
	case models.EnrollmentConfirmed:
		return "✅"
	case models.EnrollmentPending:
		return "⏳"
	}
	return "❌"
}

func paymentEmoji(s models.EnrollmentPaymentStatus) string {
	switch s {
	case models.EnrollmentPaymentPaid:
		return "💳"
	case models.EnrollmentPaymentPending:
		return "⏳"
	}
	return "❌"
}

func (t *TelegramBot) presentCourses(ctx context.Context, chatID int64, sess *session.Session, texts *locale.Texts) {
	courses, err := t.crm.ActiveCourses(ctx)
	if err != nil {
		t.logger.Errorw("Failed to list courses", "chat_id", chatID, "error", err)
		sess.ToMainMenu()
		t.reply(chatID, texts.GenericError, menuKeyboard(texts))
		return
	}
	if len(courses) == 0 {
		sess.ToMainMenu()
		t.reply(chatID, texts.NoCourses, menuKeyboard(texts))
		return
	}

	sess.State = session.StateCourseSelection
	t.reply(chatID, texts.AskCourse, courseKeyboard(texts, courses))
}

// handleCourseSelection enrolls the student into the named course. After an
// enrollment attempt the session is back in the main menu whatever the outcome:
// a failed attempt is rolled back as a whole, so the user starts over from the
// menu instead of staying in course selection.
func (t *TelegramBot) handleCourseSelection(ctx context.Context, chatID int64, text string, sess *session.Session, texts *locale.Texts) {
	if text == texts.Back {
		sess.ToMainMenu()
		t.sendMainMenu(chatID, texts)
		return
	}

	course, err := t.crm.CourseByName(ctx, text)
	if errors.Is(err, models.ErrNotFound) {
		t.reply(chatID, texts.ChooseCourse, nil)
		return
	}
	if err != nil {
		t.logger.Errorw("Failed to look up course", "chat_id", chatID, "course", text, "error", err)
		sess.ToMainMenu()
		t.reply(chatID, texts.GenericError, menuKeyboard(texts))
		return
	}
	sess.Registration.Course = course

	res, err := t.crm.Enroll(ctx, crm.EnrollRequest{
		TelegramID: chatID,
		Name:       sess.Registration.Name,
		Age:        sess.Registration.Age,
		Phone:      sess.Registration.Phone,
		Language:   sess.Language,
		Course:     *course,
	})
	sess.ToMainMenu()
	if err != nil {
		t.reply(chatID, enrollErrorText(texts, err), menuKeyboard(texts))
		return
	}

	link := t.frontendURL + "/payment?client_secret=" + url.QueryEscape(res.ClientSecret)
	t.reply(chatID, fmt.Sprintf(texts.PaymentLink,
		res.Student.Name, res.Student.Age, res.Student.Phone,
		course.Name, locale.FormatPrice(course.Price), link,
	), menuKeyboard(texts))
}

func enrollErrorText(texts *locale.Texts, err error) string {
	var stepErr *crm.StepError
	if !errors.As(err, &stepErr) {
		return texts.GenericError
	}
	switch stepErr.Step {
	case crm.StepStudent:
		return texts.SaveError
	case crm.StepEnrollment:
		return texts.EnrollError
	case crm.StepPayment:
		return texts.PaymentError
	}
	return texts.GenericError
}

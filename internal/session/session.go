// Package session keeps the per-chat conversation state of the registration bot.
package session

import "techlab-bot/internal/models"

// State is a step of the registration dialogue.
type State string

const (
	StateLanguageSelection State = "LANGUAGE_SELECTION"
	StateMainMenu          State = "MAIN_MENU"
	StateRegistrationName  State = "REGISTRATION_NAME"
	StateRegistrationAge   State = "REGISTRATION_AGE"
	StateRegistrationPhone State = "REGISTRATION_PHONE"
	StateCourseSelection   State = "COURSE_SELECTION"
)

const (
	MinAge = 5
	MaxAge = 18
)

// Registration holds the partially filled registration form.
type Registration struct {
	Name   string
	Age    int
	Phone  string
	Course *models.Course
}

type Session struct {
	ChatID       int64
	State        State
	Language     models.Language
	Registration Registration
}

func newSession(chatID int64) *Session {
	return &Session{
		ChatID:   chatID,
		State:    StateLanguageSelection,
		Language: models.LanguageRU,
	}
}

// ResetRegistration drops any partial registration data.
func (s *Session) ResetRegistration() {
	s.Registration = Registration{}
}

// ToMainMenu clears registration data and returns to the main menu.
func (s *Session) ToMainMenu() {
	s.ResetRegistration()
	s.State = StateMainMenu
}

// Store hands out sessions keyed by chat id.
//
// Acquire creates the session on first use and returns it locked; the caller
// owns it until release is called. Sessions of different chats never block
// each other.
type Store interface {
	Acquire(chatID int64) (sess *Session, release func())
	Len() int
}

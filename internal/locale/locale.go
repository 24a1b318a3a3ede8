// Package locale holds the user-facing bot texts for every supported language.
package locale

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"techlab-bot/internal/models"
)

// LanguagePrompt is shown before a language is known, so it is bilingual.
const LanguagePrompt = "🌐 Выберите язык / Тілді таңдаңыз:"

//go:embed texts.yaml
var defaultTexts []byte

// MenuAction is a main menu command.
type MenuAction int

const (
	MenuRegister MenuAction = iota + 1
	MenuCourses
	MenuFAQ
	MenuMyCourses
)

type Menu struct {
	Register  string `yaml:"register"`
	Courses   string `yaml:"courses"`
	FAQ       string `yaml:"faq"`
	MyCourses string `yaml:"my_courses"`
}

type Texts struct {
	Start            string            `yaml:"start"`
	Menu             Menu              `yaml:"menu"`
	Back             string            `yaml:"back"`
	AskName          string            `yaml:"ask_name"`
	AskAge           string            `yaml:"ask_age"`
	InvalidAge       string            `yaml:"invalid_age"`
	AskPhone         string            `yaml:"ask_phone"`
	AskCourse        string            `yaml:"ask_course"`
	ChooseCourse     string            `yaml:"choose_course"`
	ChooseMenu       string            `yaml:"choose_menu"`
	CoursesHeader    string            `yaml:"courses_header"`
	CourseEntry      string            `yaml:"course_entry"`
	NoDescription    string            `yaml:"no_description"`
	NoCourses        string            `yaml:"no_courses"`
	FAQ              string            `yaml:"faq"`
	SaveError        string            `yaml:"save_error"`
	EnrollError      string            `yaml:"enroll_error"`
	PaymentError     string            `yaml:"payment_error"`
	GenericError     string            `yaml:"generic_error"`
	PaymentLink      string            `yaml:"payment_link"`
	NotRegistered    string            `yaml:"not_registered"`
	NoEnrollments    string            `yaml:"no_enrollments"`
	MyCoursesHeader  string            `yaml:"my_courses_header"`
	MyCourseEntry    string            `yaml:"my_course_entry"`
	PaymentConfirmed string            `yaml:"payment_confirmed"`
	EnrollmentStatus map[string]string `yaml:"enrollment_status"`
	PaymentStatus    map[string]string `yaml:"payment_status"`
}

// MenuAction maps a reply keyboard label back to its command.
func (t *Texts) MenuAction(label string) (MenuAction, bool) {
	switch label {
	case t.Menu.Register:
		return MenuRegister, true
	case t.Menu.Courses:
		return MenuCourses, true
	case t.Menu.FAQ:
		return MenuFAQ, true
	case t.Menu.MyCourses:
		return MenuMyCourses, true
	}
	return 0, false
}

func (t *Texts) EnrollmentStatusLabel(s models.EnrollmentStatus) string {
	if label, ok := t.EnrollmentStatus[string(s)]; ok {
		return label
	}
	return string(s)
}

func (t *Texts) PaymentStatusLabel(s models.EnrollmentPaymentStatus) string {
	if label, ok := t.PaymentStatus[string(s)]; ok {
		return label
	}
	return string(s)
}

func (t *Texts) validate() error {
	required := map[string]string{
		"start": t.Start, "menu.register": t.Menu.Register, "menu.courses": t.Menu.Courses,
		"menu.faq": t.Menu.FAQ, "menu.my_courses": t.Menu.MyCourses, "back": t.Back,
		"ask_name": t.AskName, "ask_age": t.AskAge, "invalid_age": t.InvalidAge,
		"ask_phone": t.AskPhone, "ask_course": t.AskCourse, "choose_course": t.ChooseCourse,
		"choose_menu": t.ChooseMenu, "course_entry": t.CourseEntry, "faq": t.FAQ,
		"save_error": t.SaveError, "enroll_error": t.EnrollError, "payment_error": t.PaymentError,
		"generic_error": t.GenericError, "payment_link": t.PaymentLink,
		"my_course_entry": t.MyCourseEntry, "payment_confirmed": t.PaymentConfirmed,
	}
	var missing []string
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing texts: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Catalog is the immutable set of texts loaded at startup.
type Catalog struct {
	texts map[models.Language]*Texts
}

// Load parses the embedded texts.
func Load() (*Catalog, error) {
	return Parse(defaultTexts)
}

// Parse builds a catalog from YAML keyed by language code. Both ru and kz are required.
func Parse(data []byte) (*Catalog, error) {
	raw := map[string]*Texts{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse texts: %w", err)
	}

	c := &Catalog{texts: make(map[models.Language]*Texts, len(raw))}
	for _, lang := range []models.Language{models.LanguageRU, models.LanguageKZ} {
		t, ok := raw[string(lang)]
		if !ok || t == nil {
			return nil, fmt.Errorf("texts for %q are missing", lang)
		}
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("texts for %q: %w", lang, err)
		}
		c.texts[lang] = t
	}
	return c, nil
}

// Texts returns the texts for lang, falling back to Russian.
func (c *Catalog) Texts(lang models.Language) *Texts {
	if t, ok := c.texts[lang]; ok {
		return t
	}
	return c.texts[models.LanguageRU]
}

// ParseLanguage validates a language code such as the suffix of "lang_kz".
func ParseLanguage(code string) (models.Language, bool) {
	switch models.Language(code) {
	case models.LanguageRU, models.LanguageKZ:
		return models.Language(code), true
	}
	return "", false
}

// FormatPrice groups thousands with spaces: 25000 -> "25 000".
func FormatPrice(amount int64) string {
	grouped := message.NewPrinter(language.Russian).Sprintf("%d", amount)
	// Russian grouping uses no-break spaces; chat and HTML output use plain ones.
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\u2212':
			return '-'
		case unicode.IsSpace(r):
			return ' '
		}
		return r
	}, grouped)
}

package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techlab-bot/internal/models"
)

func TestLoadEmbeddedTexts(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	ru := c.Texts(models.LanguageRU)
	kz := c.Texts(models.LanguageKZ)
	assert.NotEqual(t, ru.Start, kz.Start)
	assert.NotEqual(t, ru.Menu.Register, kz.Menu.Register)
	assert.Equal(t, "Оплачено", ru.PaymentStatusLabel(models.EnrollmentPaymentPaid))
	assert.Equal(t, "Расталды", kz.EnrollmentStatusLabel(models.EnrollmentConfirmed))
}

func TestTextsFallsBackToRussian(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Same(t, c.Texts(models.LanguageRU), c.Texts(models.Language("en")))
}

func TestMenuAction(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	kz := c.Texts(models.LanguageKZ)

	tests := []struct {
		label string
		want  MenuAction
		ok    bool
	}{
		{kz.Menu.Register, MenuRegister, true},
		{kz.Menu.Courses, MenuCourses, true},
		{kz.Menu.FAQ, MenuFAQ, true},
		{kz.Menu.MyCourses, MenuMyCourses, true},
		{"hello", 0, false},
	}
	for _, tt := range tests {
		got, ok := kz.MenuAction(tt.label)
		assert.Equal(t, tt.ok, ok, tt.label)
		assert.Equal(t, tt.want, got, tt.label)
	}
}

func TestParseRequiresBothLanguages(t *testing.T) {
	_, err := Parse([]byte("ru:\n  start: hi\n"))
	require.Error(t, err)
}

func TestUnknownStatusLabelFallsBackToCode(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "on_hold", c.Texts(models.LanguageRU).EnrollmentStatusLabel("on_hold"))
}

func TestParseLanguage(t *testing.T) {
	lang, ok := ParseLanguage("kz")
	assert.True(t, ok)
	assert.Equal(t, models.LanguageKZ, lang)

	_, ok = ParseLanguage("en")
	assert.False(t, ok)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0", FormatPrice(0))
	assert.Equal(t, "950", FormatPrice(950))
	assert.Equal(t, "25 000", FormatPrice(25000))
	assert.Equal(t, "1 250 000", FormatPrice(1250000))
	assert.Equal(t, "-1 000", FormatPrice(-1000))
	assert.NotContains(t, FormatPrice(30000), "\u00a0")
}

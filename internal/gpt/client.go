// internal/gpt/client.go
package gpt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"techlab-bot/internal/locale"
	"techlab-bot/internal/models"
)

const DefaultModel = openai.GPT4oMini

// ErrEmptyAnswer is returned when the model produced no choices.
var ErrEmptyAnswer = errors.New("no response from GPT API")

// Client answers free-form questions about the school.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(openai.DefaultConfig(apiKey))
}

func NewClientWithConfig(cfg openai.ClientConfig) *Client {
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  DefaultModel,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

var systemPrompts = map[models.Language]string{
	models.LanguageRU: "Ты консультант детской школы программирования и робототехники TechLab. " +
		"Отвечай кратко и дружелюбно на русском языке. Опирайся только на список курсов ниже; " +
		"если ответа нет, предложи записаться через меню бота.",
	models.LanguageKZ: "Сен TechLab балаларға арналған бағдарламалау және робототехника мектебінің кеңесшісісің. " +
		"Қазақ тілінде қысқа әрі достық түрде жауап бер. Тек төмендегі курстар тізіміне сүйен; " +
		"жауап болмаса, бот мәзірі арқылы жазылуды ұсын.",
}

// catalogContext renders the active courses as plain text for the prompt.
func catalogContext(courses []models.Course) string {
	var b strings.Builder
	b.WriteString("Courses:\n")
	for _, c := range courses {
		fmt.Fprintf(&b, "- %s: %s; %s KZT per month; %d weeks\n",
			c.Name, c.Description, locale.FormatPrice(c.Price), c.DurationWeeks)
	}
	return b.String()
}

func (c *Client) AnswerQuestion(ctx context.Context, lang models.Language, question string, courses []models.Course) (string, error) {
	system, ok := systemPrompts[lang]
	if !ok {
		system = systemPrompts[models.LanguageRU]
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system + "\n\n" + catalogContext(courses),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: question,
			},
		},
		MaxTokens:   600,
		Temperature: 0.4,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

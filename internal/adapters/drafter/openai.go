package drafter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"engagement-hub/internal/domain"
	openai "engagement-hub/internal/infra/openai"
)

type chatClient interface {
	Complete(ctx context.Context, req openai.ChatRequest) (openai.ChatResponse, error)
}

// OpenAI реализует domain.Drafter через Chat Completions.
type OpenAI struct {
	client  chatClient
	timeout time.Duration
}

var _ domain.Drafter = (*OpenAI)(nil)

// NewOpenAI создаёт генератор черновиков. Таймаут ограничивает каждый вызов модели.
func NewOpenAI(client chatClient, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, timeout: timeout}
}

const systemPrompt = "Ты помогаешь бренду вежливо и по делу отвечать в сообществах. Не выдумывай фактов, не используй рекламные штампы и не упоминай, что текст написан ИИ."

type analysisPayload struct {
	Score       float64 `json:"score"`
	Recommended bool    `json:"recommended"`
	Rationale   string  `json:"rationale"`
}

type draftPayload struct {
	Draft string `json:"draft"`
}

// Analyze оценивает, стоит ли отвечать на публикацию.
func (o *OpenAI) Analyze(ctx context.Context, item domain.EngagementItem) (domain.Analysis, error) {
	prompt := fmt.Sprintf(`Оцени, насколько публикация из сообщества подходит для полезного ответа от бренда.
Верни JSON {"score": 0-10, "recommended": true|false, "rationale": "одно-два предложения"}.
Сообщество: %s
Ключевое слово: %s
Заголовок: %s
Текст:
%s`, item.Community, item.MatchedKeyword, clipRunes(item.Title, 300), clipRunes(item.Body, 3000))

	var parsed analysisPayload
	if err := o.completeJSON(ctx, prompt, 0.1, 300, &parsed); err != nil {
		return domain.Analysis{}, err
	}
	return domain.Analysis{
		Score:       clampScore(parsed.Score),
		Recommended: parsed.Recommended,
		Rationale:   strings.TrimSpace(parsed.Rationale),
	}, nil
}

// Generate пишет черновик ответа.
func (o *OpenAI) Generate(ctx context.Context, item domain.EngagementItem, opts domain.DraftOptions) (string, error) {
	var b strings.Builder
	b.WriteString("Напиши ответ на публикацию из сообщества.\n")
	b.WriteString(fmt.Sprintf("Длина: %s.\n", lengthHint(opts.Length)))
	if opts.Style != "" {
		b.WriteString(fmt.Sprintf("Стиль: %s.\n", opts.Style))
	}
	if opts.Voice != "" {
		b.WriteString(fmt.Sprintf("Голос бренда: %s.\n", opts.Voice))
	}
	if opts.Instructions != "" {
		b.WriteString(fmt.Sprintf("Дополнительные указания: %s\n", clipRunes(opts.Instructions, 1000)))
	}
	b.WriteString(`Верни JSON {"draft": "текст ответа"}.` + "\n")
	b.WriteString(fmt.Sprintf("Заголовок: %s\nТекст:\n%s", clipRunes(item.Title, 300), clipRunes(item.Body, 3000)))

	var parsed draftPayload
	if err := o.completeJSON(ctx, b.String(), 0.7, 1500, &parsed); err != nil {
		return "", err
	}
	return nonEmptyDraft(parsed.Draft)
}

// Refine дорабатывает текущий текст ответа.
func (o *OpenAI) Refine(ctx context.Context, text string, action domain.RefineAction, targetStyle string) (string, error) {
	var instruction string
	switch action {
	case domain.RefineShorten:
		instruction = "Сократи ответ примерно вдвое, сохранив суть."
	case domain.RefineExpand:
		instruction = "Расширь ответ: добавь конкретики и пример, не меняя тон."
	case domain.RefineRestyle:
		style := strings.TrimSpace(targetStyle)
		if style == "" {
			style = "дружелюбный"
		}
		instruction = fmt.Sprintf("Перепиши ответ в стиле: %s.", style)
	default:
		return "", fmt.Errorf("%w: refine action %q", domain.ErrInvalidParams, action)
	}
	prompt := fmt.Sprintf("%s\nВерни JSON {\"draft\": \"новый текст\"}.\nТекущий ответ:\n%s", instruction, clipRunes(text, 12000))

	var parsed draftPayload
	if err := o.completeJSON(ctx, prompt, 0.5, 2000, &parsed); err != nil {
		return "", err
	}
	return nonEmptyDraft(parsed.Draft)
}

func (o *OpenAI) completeJSON(ctx context.Context, prompt string, temperature float64, maxTokens int, out any) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Complete(ctx, openai.ChatRequest{
		System:      systemPrompt,
		User:        prompt,
		JSON:        true,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return fmt.Errorf("openai completion: %w", err)
	}
	if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
		return fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	return nil
}

var errEmptyDraft = errors.New("модель вернула пустой черновик")

func nonEmptyDraft(draft string) (string, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", errEmptyDraft
	}
	return draft, nil
}

func lengthHint(length string) string {
	switch strings.ToLower(strings.TrimSpace(length)) {
	case "short":
		return "2-3 предложения"
	case "long":
		return "3-4 абзаца"
	default:
		return "один-два абзаца"
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

package drafter

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"engagement-hub/internal/domain"
)

// Simple реализует domain.Drafter эвристиками. Используется без ключа OpenAI.
type Simple struct {
	recommendAt float64
}

var _ domain.Drafter = (*Simple)(nil)

// NewSimple создаёт эвристический генератор. recommendAt — порог рекомендации.
func NewSimple(recommendAt float64) *Simple {
	return &Simple{recommendAt: recommendAt}
}

// Analyze оценивает публикацию по длине, наличию вопроса и совпадению ключевого слова.
func (s *Simple) Analyze(_ context.Context, item domain.EngagementItem) (domain.Analysis, error) {
	text := strings.TrimSpace(item.Title + " " + item.Body)
	words := len(strings.Fields(text))
	score := 2.0
	var reasons []string
	if strings.Contains(text, "?") {
		score += 3
		reasons = append(reasons, "автор задаёт вопрос")
	}
	if kw := strings.TrimSpace(item.MatchedKeyword); kw != "" && strings.Contains(strings.ToLower(text), strings.ToLower(kw)) {
		score += 3
		reasons = append(reasons, "есть ключевое слово")
	}
	switch {
	case words >= 40:
		score += 2
		reasons = append(reasons, "развёрнутый текст")
	case words >= 10:
		score++
	}
	score = clampScore(score)
	if len(reasons) == 0 {
		reasons = append(reasons, "слабые сигналы")
	}
	return domain.Analysis{
		Score:       score,
		Recommended: score >= s.recommendAt,
		Rationale:   strings.Join(reasons, ", "),
	}, nil
}

// Generate собирает ответ по шаблону.
func (s *Simple) Generate(_ context.Context, item domain.EngagementItem, opts domain.DraftOptions) (string, error) {
	topic := strings.TrimSpace(item.Title)
	if topic == "" {
		topic = firstSentence(item.Body)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Спасибо, что подняли тему «%s».", clipRunes(topic, 120)))
	if item.MatchedKeyword != "" {
		b.WriteString(fmt.Sprintf(" Мы много работаем с %s и готовы поделиться опытом.", item.MatchedKeyword))
	}
	if strings.EqualFold(opts.Length, "long") {
		b.WriteString(" Если расскажете подробнее о задаче, подскажем, с чего начать и какие есть подводные камни.")
	}
	if opts.Instructions != "" {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(opts.Instructions))
	}
	return restyle(b.String(), opts.Style), nil
}

// Refine сокращает, расширяет или меняет стиль текста.
func (s *Simple) Refine(_ context.Context, text string, action domain.RefineAction, targetStyle string) (string, error) {
	text = strings.TrimSpace(text)
	switch action {
	case domain.RefineShorten:
		sentences := splitSentences(text)
		if len(sentences) <= 1 {
			return clipRunes(text, max(1, len([]rune(text))/2)), nil
		}
		return strings.Join(sentences[:(len(sentences)+1)/2], " "), nil
	case domain.RefineExpand:
		return text + " Будем рады ответить на вопросы в комментариях.", nil
	case domain.RefineRestyle:
		return restyle(text, targetStyle), nil
	default:
		return "", fmt.Errorf("%w: refine action %q", domain.ErrInvalidParams, action)
	}
}

func restyle(text, style string) string {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "formal":
		return "Добрый день! " + text
	case "casual":
		return "Привет! " + text
	default:
		return text
	}
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
					out = append(out, sentence)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	return sentences[0]
}

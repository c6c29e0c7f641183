package telegram

import (
	"strings"
	"unicode"
)

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage делит текст на части не длиннее limit символов. Сначала ищет перевод
// строки, затем пробел; слово длиннее limit режется по границе.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := lastBreak(runes, start, end, func(r rune) bool { return r == '\n' })
		if split == -1 {
			split = lastBreak(runes, start, end, unicode.IsSpace)
		}
		if split == -1 {
			split = end
		}

		if chunk := strings.TrimSpace(string(runes[start:split])); chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
	}
	return parts
}

// lastBreak возвращает позицию после последнего разделителя в (start, end] или -1.
func lastBreak(runes []rune, start, end int, isBreak func(rune) bool) int {
	for i := end; i > start+1; i-- {
		if isBreak(runes[i-1]) {
			return i
		}
	}
	return -1
}

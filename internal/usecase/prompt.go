package usecase

import (
	"strings"

	"prediction-api/internal/domain"
)

// buildQuery returns the two-message conversation sent to the model. The
// user text is passed through unchanged.
func buildQuery(userInput string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Text: systemInstruction()},
		{Role: domain.RoleUser, Text: userInput},
	}
}

func systemInstruction() string {
	return strings.Join([]string{
		"Ты должен отвечать на вопросы, заданные на русском языке, и ответы должны быть на русском языке.",
		"Предоставь информацию по заданному вопросу с тремя источниками.",
		"",
		"Все ответы формируются и возвращаются в формате JSON со следующими ключами:",
		outputContract(),
	}, "\n")
}

func outputContract() string {
	return strings.Join([]string{
		"id — числовое значение, соответствующее идентификатору запроса (передаётся во входном запросе), или null.",
		"answer — числовое значение, содержащее правильный ответ на вопрос (если вопрос подразумевает выбор из вариантов). Если вопрос не предполагает выбор из вариантов, значение должно быть null.",
		"reasoning — текстовое поле, содержащее объяснение или дополнительную информацию по запросу.",
		"sources — список ссылок на источники информации (если используются). Если источники не требуются, значение должно быть пустым списком [].",
	}, "\n")
}

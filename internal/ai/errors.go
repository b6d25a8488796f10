package ai

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// reasonOf: короткая причина для сигнала Failed.
func reasonOf(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("status %d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("status %d", reqErr.HTTPStatusCode)
	}
	return "transport"
}

// Diagnose: человеко-читаемая диагностика ошибок OpenAI для уведомлений.
func Diagnose(err error) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "status 401"), strings.Contains(msg, "status code: 401"):
		return "Неверный API-ключ OpenAI."
	case strings.Contains(msg, "status 404"), strings.Contains(msg, "status code: 404"):
		return "Модель не найдена."
	case strings.Contains(msg, "status 429"), strings.Contains(msg, "status code: 429"):
		return "Превышен лимит OpenAI."
	case strings.Contains(msg, "status code: 400") && strings.Contains(msg, "model"):
		return "Неверно указана модель."
	case strings.Contains(msg, "status 400"), strings.Contains(msg, "status code: 400"):
		return "Некорректный запрос к OpenAI."
	case strings.Contains(msg, "status 500"), strings.Contains(msg, "status code: 500"):
		return "Внутренняя ошибка OpenAI."
	}
	return "Неизвестная ошибка: " + err.Error()
}

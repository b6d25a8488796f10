package ai

import (
	"bytes"
	"context"
	"strings"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	openai "github.com/sashabaranov/go-openai"
)

const DefaultSystemPrompt = "Ты дружелюбный логичный ассистент. Отвечай коротко: ответ будет озвучен."

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // пусто: api.openai.com
	Model        string
	SystemPrompt string
}

type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(oc),
		model:        model,
		systemPrompt: prompt,
	}
}

// GenerateReply делает один запрос без истории (системный промпт + реплика пользователя).
func (c *OpenAIClient) GenerateReply(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", ports.NewPipelineError(ports.StageGenerate, reasonOf(err), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ports.NewPipelineError(ports.StageGenerate, ports.ReasonEmptyResult, nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe: Whisper. Имя файла нужно API для определения формата.
func (c *OpenAIClient) Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error) {
	data, err := h.Bytes()
	if err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, "audio-read", err)
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "recording." + h.Ext(),
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, reasonOf(err), err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ports.NewPipelineError(ports.StageTranscribe, ports.ReasonEmptyResult, nil)
	}
	return resp.Text, nil
}

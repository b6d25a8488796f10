package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/goccy/go-json"
)

const deepgramBaseURL = "https://api.deepgram.com"

type DeepgramClient struct {
	apiKey   string
	language string
	baseURL  string
	client   *http.Client
}

func NewDeepgramClient(apiKey, language string) *DeepgramClient {
	if language == "" {
		language = "ru"
	}
	return &DeepgramClient{
		apiKey:   apiKey,
		language: language,
		baseURL:  deepgramBaseURL,
		client:   &http.Client{},
	}
}

func (c *DeepgramClient) WithBaseURL(u string) *DeepgramClient {
	c.baseURL = u
	return c
}

func (c *DeepgramClient) Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error) {
	data, err := h.Bytes()
	if err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, "audio-read", err)
	}

	q := url.Values{}
	q.Set("model", "nova-2")
	q.Set("smart_format", "true")
	q.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Token "+c.apiKey)
	ct := h.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, "transport", fmt.Errorf("deepgram request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", ports.NewPipelineError(ports.StageTranscribe,
			fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("deepgram error: %s", body))
	}

	var parsed struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, "decode", fmt.Errorf("decode deepgram: %w", err))
	}

	if len(parsed.Results.Channels) == 0 ||
		len(parsed.Results.Channels[0].Alternatives) == 0 ||
		parsed.Results.Channels[0].Alternatives[0].Transcript == "" {
		return "", ports.NewPipelineError(ports.StageTranscribe, ports.ReasonEmptyResult, nil)
	}

	return parsed.Results.Channels[0].Alternatives[0].Transcript, nil
}

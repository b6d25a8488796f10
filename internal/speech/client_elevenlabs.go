package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/goccy/go-json"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID    = "EXAVITQu4vr4xnSDxMaL" // Rachel
)

type ElevenLabsClient struct {
	apiKey  string
	voiceID string
	baseURL string
	httpCli *http.Client
}

func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabsClient{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: elevenLabsBaseURL,
		httpCli: http.DefaultClient,
	}
}

// WithBaseURL: для тестов и прокси.
func (c *ElevenLabsClient) WithBaseURL(u string) *ElevenLabsClient {
	c.baseURL = u
	return c
}

// TEXT → SPEECH
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (*ports.AudioHandle, error) {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, ports.NewPipelineError(ports.StageSynthesize, ReasonTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ports.NewPipelineError(ports.StageSynthesize,
			fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("elevenlabs error: %s", b))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ports.NewPipelineError(ports.StageSynthesize, ReasonTransport, err)
	}
	if len(audio) == 0 {
		return nil, ports.NewPipelineError(ports.StageSynthesize, ports.ReasonEmptyResult, nil)
	}
	return ports.NewAudioHandle("", audio, "audio/mpeg", nil), nil
}

package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	ReasonTransport = "transport"
	ReasonDecode    = "decode"
	ReasonAudioRead = "audio-read"

	maxErrorBody = 512
)

// RemoteClient: клиент к трём эндпоинтам бэкенда:
// /speechToText, /gpt, /textToSpeech. Один запрос на вызов, без ретраев.
type RemoteClient struct {
	baseURL string
	httpCli *http.Client
	log     *zap.SugaredLogger
}

func NewRemoteClient(baseURL string, httpCli *http.Client, log *zap.SugaredLogger) *RemoteClient {
	if httpCli == nil {
		httpCli = &http.Client{}
	}
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCli: httpCli,
		log:     log,
	}
}

type resultResponse struct {
	Result *string `json:"result"`
}

func (c *RemoteClient) Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error) {
	data, err := h.Bytes()
	if err != nil {
		return "", ports.NewPipelineError(ports.StageTranscribe, ReasonAudioRead, err)
	}

	body := map[string]string{"audio": base64.StdEncoding.EncodeToString(data)}
	return c.postForResult(ctx, ports.StageTranscribe, "/speechToText", body)
}

func (c *RemoteClient) GenerateReply(ctx context.Context, text string) (string, error) {
	return c.postForResult(ctx, ports.StageGenerate, "/gpt", map[string]string{"text": text})
}

func (c *RemoteClient) Synthesize(ctx context.Context, text string) (*ports.AudioHandle, error) {
	resp, err := c.post(ctx, ports.StageSynthesize, "/textToSpeech", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ports.NewPipelineError(ports.StageSynthesize, ReasonTransport, err)
	}
	if len(audio) == 0 {
		return nil, ports.NewPipelineError(ports.StageSynthesize, ports.ReasonEmptyResult, nil)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = "audio/mpeg"
	}
	return ports.NewAudioHandle("", audio, ct, nil), nil
}

func (c *RemoteClient) postForResult(ctx context.Context, stage ports.Stage, path string, body any) (string, error) {
	resp, err := c.post(ctx, stage, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ports.NewPipelineError(stage, ReasonDecode, err)
	}
	if out.Result == nil || *out.Result == "" {
		return "", ports.NewPipelineError(stage, ports.ReasonEmptyResult, nil)
	}
	return *out.Result, nil
}

// post returns the response only for status 200; the caller closes the body.
func (c *RemoteClient) post(ctx context.Context, stage ports.Stage, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ports.NewPipelineError(stage, ReasonDecode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, ports.NewPipelineError(stage, ReasonTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, ports.NewPipelineError(stage, ReasonTransport, err)
	}
	c.log.Debugw("[speech] remote call", "path", path, "status", resp.StatusCode, "took", time.Since(start).String())

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, ports.NewPipelineError(stage, fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(b))))
	}
	return resp, nil
}

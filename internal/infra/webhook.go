package infra

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultWebhookTimeout — таймаут HTTP запроса по умолчанию.
	defaultWebhookTimeout = 30 * time.Second

	// maxWebhookResponseBody — максимальный размер тела ответа (10 MB).
	maxWebhookResponseBody = 10 * 1024 * 1024
)

// WebhookConfig — конфигурация WebhookBackend.
type WebhookConfig struct {
	// BaseURL — адрес внешнего runner-сервиса.
	BaseURL string

	// Headers — дополнительные заголовки (авторизация и т.п.).
	Headers map[string]string

	// ValidateSSL — проверять ли TLS сертификат runner-сервиса.
	ValidateSSL bool

	// Timeout — таймаут одного HTTP запроса. 0 — defaultWebhookTimeout.
	Timeout time.Duration

	// Logger для событий backend.
	Logger *slog.Logger
}

// WebhookBackend — backend, делегирующий выполнение внешнему
// runner-сервису по HTTP.
//
// Submit отправляет POST {BaseURL}/submissions с описанием работы и
// блокируется до ответа: runner выполняет работу синхронно и отвечает
// результатом. Cancel отправляет DELETE {BaseURL}/submissions/{id}.
//
// Формат ответа на Submit:
//
//	{
//	    "identifier": "runner-job-17",
//	    "outputs": {...}
//	}
type WebhookBackend struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookBackend создаёт WebhookBackend.
func NewWebhookBackend(cfg WebhookConfig) (*WebhookBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("webhook backend: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.ValidateSSL,
				},
			},
		},
		logger: logger.With("component", "webhook-backend"),
	}, nil
}

// Name возвращает имя backend для логов.
func (b *WebhookBackend) Name() string {
	return "webhook"
}

// Submit отправляет submission runner-сервису и ждёт завершения.
func (b *WebhookBackend) Submit(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	payload := map[string]any{
		"run_id":    sub.RunID.String(),
		"flow_name": sub.FlowName,
		"command":   sub.Command,
		"env":       sub.Env,
	}

	body, err := b.doRequest(ctx, http.MethodPost, b.baseURL+"/submissions", payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("webhook backend: decode response: %w", err)
	}

	b.logger.Debug("submission выполнена runner-сервисом",
		"run_id", sub.RunID,
		"identifier", parsed.Identifier,
	)

	return &SubmissionResult{Identifier: parsed.Identifier}, nil
}

// Cancel прерывает submission на runner-сервисе.
func (b *WebhookBackend) Cancel(ctx context.Context, identifier string) error {
	url := b.baseURL + "/submissions/" + identifier
	_, err := b.doRequest(ctx, http.MethodDelete, url, nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrSubmissionNotFound, identifier)
		}
		return err
	}
	return nil
}

// doRequest выполняет HTTP запрос к runner-сервису и возвращает тело ответа.
func (b *WebhookBackend) doRequest(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webhook backend: serialize payload: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("webhook backend: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("webhook backend: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBody))
	if err != nil {
		return nil, fmt.Errorf("webhook backend: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	return raw, nil
}

// HTTPError — ошибка HTTP запроса к runner-сервису.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook backend: HTTP %d: %s", e.StatusCode, e.Status)
}

package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// Generator produces a fragment for a question. It is the only external
// collaborator of the pipeline; everything it returns is treated as
// untrusted text and goes through Parse before execution.
type Generator interface {
	GenerateFragment(ctx context.Context, question, schemaDesc string) (string, error)
}

// systemPrompt instructs the service to answer in the fragment language and
// nothing else.
const systemPrompt = `Você escreve consultas na linguagem de fragmentos abaixo para responder perguntas sobre uma tabela de notas fiscais mescladas.

Instruções:
filter <col> <op> <valor>       op: == != > >= < <= contains
group by <col> <agg> [<col>]    agg: sum count avg min max
sort <col> [asc|desc]
limit <n>
select <col>[,...]
print "texto {expr}"
print each <n> "texto {col}"
result
chart <bar|pie|line> <x> <y> "titulo"

Em {expr}: nome de coluna, sum(col), avg(col), min(col), max(col), count(), format_currency(expr), format_number(expr).
Responda APENAS com o fragmento, sem explicações.`

// APIError is a structured non-2xx reply from the generation service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("generator api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("generator api error: status=%d", e.StatusCode)
}

// HTTPGenerator talks to an OpenAI-style chat-completions endpoint.
type HTTPGenerator struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// HTTPOptions configures an HTTPGenerator. Zero values get sane defaults.
type HTTPOptions struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// NewHTTPGenerator builds the production generator client. The base URL is
// injectable so tests can point it at a local httptest server.
func NewHTTPGenerator(opts HTTPOptions) *HTTPGenerator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = 3
	}
	return &HTTPGenerator{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		apiKey:      opts.APIKey,
		maxAttempts: retries,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    4 * time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateFragment implements Generator.
//
// Retries: network timeouts, 429 and 5xx get exponential backoff with
// jitter, capped at maxDelay; other failures return immediately. The reply
// is stripped of surrounding code fences before being returned.
func (g *HTTPGenerator) GenerateFragment(ctx context.Context, question, schemaDesc string) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("generator api key is missing")
	}

	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: schemaDesc + "\n\npergunta: " + question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := g.baseURL + "/chat/completions"
	backoff := g.baseDelay

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if isRetryableNetErr(err) && attempt < g.maxAttempts {
				lastErr = err
				time.Sleep(withJitter(backoff, g.maxDelay))
				backoff *= 2
				continue
			}
			return "", fmt.Errorf("http request: %w", err)
		}

		text, apiErr := decodeChatResponse(resp)
		if apiErr == nil {
			return StripFences(text), nil
		}
		lastErr = apiErr
		var ae *APIError
		retryable := errors.As(apiErr, &ae) &&
			(ae.StatusCode == http.StatusTooManyRequests || (ae.StatusCode >= 500 && ae.StatusCode <= 599))
		if !retryable || attempt == g.maxAttempts {
			return "", apiErr
		}
		time.Sleep(withJitter(backoff, g.maxDelay))
		backoff *= 2
	}
	return "", lastErr
}

func decodeChatResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)
		if v, ok := raw["error"].(map[string]any); ok {
			apiErr.Message, _ = v["message"].(string)
			apiErr.Code, _ = v["code"].(string)
		}
		return "", apiErr
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("generator returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag, from a generated reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the language tag line ("```text")
		first := strings.TrimSpace(s[:i])
		if first != "" && !strings.ContainsAny(first, " \t") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

// withJitter applies +/- 20% jitter and the configured cap.
func withJitter(d, max time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if max > 0 && out > max {
		out = max
	}
	return out
}

// MockGenerator answers offline with canned fragments keyed on question
// keywords. It keeps the binary usable without credentials and gives tests
// a deterministic generator.
type MockGenerator struct{}

func (MockGenerator) GenerateFragment(_ context.Context, question, _ string) (string, error) {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "fornecedor"):
		return `group by fornecedor sum valor_total
sort sum_valor_total desc
limit 10
print "fornecedor com maior total: {fornecedor} ({format_currency(sum_valor_total)})"
result`, nil
	case strings.Contains(q, "item") || strings.Contains(q, "produto"):
		return `group by descricao_item sum quantidade
sort sum_quantidade desc
limit 10
print "item com maior quantidade: {descricao_item}"
result`, nil
	case strings.Contains(q, "media") || strings.Contains(q, "médio") || strings.Contains(q, "média"):
		return `print "valor medio das notas: {format_currency(avg(valor_total))}"`, nil
	default:
		return `print "total geral: {format_currency(sum(valor_total))} em {count()} linhas"
result`, nil
	}
}

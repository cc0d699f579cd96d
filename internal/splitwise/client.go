package splitwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/club-sessions/constants"
)

const DefaultBaseURL = "https://secure.splitwise.com/api/v3.0"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CreateResult is a successful create_expense call.
type CreateResult struct {
	ExpenseID string
	Status    int
	Raw       json.RawMessage
}

// APIError is a failed create_expense call. Raw is always a JSON document.
type APIError struct {
	Code    constants.SettlementCode
	Status  int
	Message string
	Raw     json.RawMessage
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Client struct {
	http   *http.Client
	cfg    Config
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, err
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		schema: schema,
		logger: logger,
	}, nil
}

// HasAPIKey reports whether a bearer token is configured.
func (c *Client) HasAPIKey() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// createExpenseSchema is the subset of the create_expense response the
// client relies on. Splitwise returns errors either as an object of string
// lists or as an empty array.
var createExpenseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"expenses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]any{
					"id": map[string]any{"type": []string{"integer", "string"}},
				},
			},
		},
		"errors": map[string]any{"type": []string{"object", "array"}},
	},
	"required": []string{"expenses"},
}

func compileResponseSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(createExpenseSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("create_expense.json", strings.NewReader(string(b))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("create_expense.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

type createExpenseResponse struct {
	Expenses []struct {
		ID json.Number `json:"id"`
	} `json:"expenses"`
	Errors json.RawMessage `json:"errors"`
}

// CreateExpense posts the payload to create_expense.
func (c *Client) CreateExpense(ctx context.Context, payload Payload) (*CreateResult, error) {
	reqID := uuid.New().String()
	start := time.Now()
	body := payload.Form().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/create_expense", strings.NewReader(body))
	if err != nil {
		c.logger.Error("splitwise.http.build_request_error", "req_id", reqID, "error", err)
		return nil, &APIError{Code: constants.CodeSplitwiseRequest, Message: err.Error(), Raw: errorDoc(0, err.Error())}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Info("splitwise.http.request", "req_id", reqID, "group_id", payload["group_id"], "cost", payload["cost"])

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("splitwise.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &APIError{Code: constants.CodeSplitwiseRequest, Message: err.Error(), Raw: errorDoc(0, err.Error())}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("splitwise.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Error("splitwise.http.read_error",
			"req_id", reqID,
			"status", resp.StatusCode,
			"bytes", len(raw),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &APIError{
			Code:    constants.CodeSplitwiseRequest,
			Status:  resp.StatusCode,
			Message: "read response: " + err.Error(),
			Raw:     errorDoc(resp.StatusCode, err.Error()),
		}
	}
	c.logger.Info("splitwise.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	doc := asJSON(resp.StatusCode, raw)
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{
			Code:    constants.CodeSplitwiseRejected,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("non-2xx status: %d", resp.StatusCode),
			Raw:     doc,
		}
	}

	id, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("splitwise.create_expense.rejected", "req_id", reqID, "error", err)
		return nil, &APIError{Code: constants.CodeSplitwiseRejected, Status: resp.StatusCode, Message: err.Error(), Raw: doc}
	}
	return &CreateResult{ExpenseID: id, Status: resp.StatusCode, Raw: doc}, nil
}

func (c *Client) decode(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if err := c.schema.Validate(v); err != nil {
		return "", fmt.Errorf("response does not match schema: %w", err)
	}

	var out createExpenseResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if msg := errorsMessage(out.Errors); msg != "" {
		return "", errors.New(msg)
	}
	if len(out.Expenses) == 0 || out.Expenses[0].ID.String() == "" {
		return "", errors.New("response has no created expense")
	}
	return out.Expenses[0].ID.String(), nil
}

// errorsMessage flattens a non-empty Splitwise "errors" value.
func errorsMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var byField map[string][]string
	if err := json.Unmarshal(raw, &byField); err != nil {
		return ""
	}
	var parts []string
	for _, field := range slices.Sorted(maps.Keys(byField)) {
		if msgs := byField[field]; len(msgs) > 0 {
			parts = append(parts, field+": "+strings.Join(msgs, ", "))
		}
	}
	return strings.Join(parts, "; ")
}

func asJSON(status int, raw []byte) json.RawMessage {
	if json.Valid(raw) && len(raw) > 0 {
		return raw
	}
	return errorDoc(status, string(raw))
}

func errorDoc(status int, body string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"status": strconv.Itoa(status), "body": body})
	return b
}

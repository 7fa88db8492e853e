package pingone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
	"github.com/pingone-bulk-console/internal/models"
)

// UserAPI performs a single create/modify/delete call against the identity
// API. Perform always returns a structured OperationResult; the error value
// is classification only (rate limiting, transience) and is nil whenever the
// outcome is a success kind or a deliberate skip.
type UserAPI interface {
	Perform(ctx context.Context, kind models.OperationKind, record models.Record, token Token, environmentID string) (models.OperationResult, error)
}

// Client is the concrete UserAPI backed by the PingOne management API
type Client struct {
	cfg        config.PingOneConfig
	httpClient *http.Client
	log        zerolog.Logger
}

var _ UserAPI = (*Client)(nil)

// NewClient creates a Client
func NewClient(cfg config.PingOneConfig, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log.With().Str("service", "pingone").Logger(),
	}
}

// Perform dispatches one record to the remote API
func (c *Client) Perform(ctx context.Context, kind models.OperationKind, record models.Record, token Token, environmentID string) (models.OperationResult, error) {
	switch kind {
	case models.OperationImport:
		return c.createUser(ctx, record, token, environmentID)
	case models.OperationModify:
		return c.modifyUser(ctx, record, token, environmentID)
	case models.OperationDelete:
		return c.deleteUser(ctx, record, token, environmentID)
	default:
		return models.OperationResult{
			Identifier: record.Identifier(),
			Status:     models.ResultError,
			Message:    fmt.Sprintf("unsupported operation kind: %s", kind),
		}, nil
	}
}

func (c *Client) createUser(ctx context.Context, record models.Record, token Token, environmentID string) (models.OperationResult, error) {
	identifier := record.Identifier()
	endpoint := c.usersURL(environmentID)

	status, body, err := c.send(ctx, http.MethodPost, endpoint, token, userPayload(record))
	if err != nil {
		return errorResult(identifier, err), err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return models.OperationResult{Identifier: identifier, Status: models.ResultImported, Message: "user created"}, nil
	case status == http.StatusConflict:
		// Re-running an import against existing users is routine, not a failure
		return models.OperationResult{Identifier: identifier, Status: models.ResultSkipped, Message: "user already exists"}, nil
	default:
		apiErr := &APIError{StatusCode: status, Message: providerMessage(body), Body: string(body)}
		return errorResult(identifier, apiErr), apiErr
	}
}

func (c *Client) modifyUser(ctx context.Context, record models.Record, token Token, environmentID string) (models.OperationResult, error) {
	identifier := record.Identifier()

	userID, result, err := c.resolveUserID(ctx, record, token, environmentID)
	if userID == "" {
		return result, err
	}

	endpoint := c.usersURL(environmentID) + "/" + url.PathEscape(userID)
	status, body, err := c.send(ctx, http.MethodPatch, endpoint, token, userPayload(record))
	if err != nil {
		return errorResult(identifier, err), err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return models.OperationResult{Identifier: identifier, Status: models.ResultModified, Message: "user updated"}, nil
	case status == http.StatusNotFound:
		return models.OperationResult{Identifier: identifier, Status: models.ResultError, Message: "user not found"}, nil
	default:
		apiErr := &APIError{StatusCode: status, Message: providerMessage(body), Body: string(body)}
		return errorResult(identifier, apiErr), apiErr
	}
}

func (c *Client) deleteUser(ctx context.Context, record models.Record, token Token, environmentID string) (models.OperationResult, error) {
	identifier := record.Identifier()

	userID, result, err := c.resolveUserID(ctx, record, token, environmentID)
	if userID == "" {
		return result, err
	}

	endpoint := c.usersURL(environmentID) + "/" + url.PathEscape(userID)
	status, body, err := c.send(ctx, http.MethodDelete, endpoint, token, nil)
	if err != nil {
		return errorResult(identifier, err), err
	}

	switch {
	case status == http.StatusNoContent || status == http.StatusOK:
		return models.OperationResult{Identifier: identifier, Status: models.ResultDeleted, Message: "user deleted"}, nil
	case status == http.StatusNotFound:
		// Deleting a nonexistent user is a caller mistake worth surfacing
		return models.OperationResult{Identifier: identifier, Status: models.ResultError, Message: "user not found"}, nil
	default:
		apiErr := &APIError{StatusCode: status, Message: providerMessage(body), Body: string(body)}
		return errorResult(identifier, apiErr), apiErr
	}
}

// resolveUserID returns the target user's id, resolving by username/email
// search when the record carries no direct id. A zero id means resolution
// failed and the accompanying result is final.
func (c *Client) resolveUserID(ctx context.Context, record models.Record, token Token, environmentID string) (string, models.OperationResult, error) {
	identifier := record.Identifier()
	if record.UserID != "" {
		return record.UserID, models.OperationResult{}, nil
	}

	attribute, value := "username", record.Username
	if value == "" {
		attribute, value = "email", record.Email
	}
	filter := fmt.Sprintf(`%s eq "%s"`, attribute, strings.ReplaceAll(value, `"`, `\"`))
	endpoint := c.usersURL(environmentID) + "?filter=" + url.QueryEscape(filter)

	status, body, err := c.send(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return "", errorResult(identifier, err), err
	}
	if status != http.StatusOK {
		apiErr := &APIError{StatusCode: status, Message: providerMessage(body), Body: string(body)}
		return "", errorResult(identifier, apiErr), apiErr
	}

	var payload struct {
		Embedded struct {
			Users []struct {
				ID string `json:"id"`
			} `json:"users"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr := &APIError{StatusCode: status, Message: "malformed user search response"}
		return "", errorResult(identifier, apiErr), apiErr
	}
	if len(payload.Embedded.Users) == 0 {
		return "", models.OperationResult{Identifier: identifier, Status: models.ResultError, Message: "user not found"}, nil
	}

	return payload.Embedded.Users[0].ID, models.OperationResult{}, nil
}

// send issues one authenticated JSON request. Non-transient HTTP statuses
// come back as (status, body, nil) for the caller to interpret; network
// failures and transient statuses (429, 5xx) come back as *APIError, after
// exhausting the configured retries.
func (c *Client) send(ctx context.Context, method, endpoint string, token Token, payload map[string]interface{}) (int, []byte, error) {
	attempt := func() (int, []byte, error) {
		var reqBody io.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return 0, nil, &APIError{Message: err.Error()}
			}
			reqBody = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return 0, nil, &APIError{Message: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, &APIError{Message: err.Error()}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp.StatusCode, body, &APIError{
				StatusCode: resp.StatusCode,
				Message:    providerMessage(body),
				Body:       string(body),
			}
		}
		return resp.StatusCode, body, nil
	}

	if c.cfg.MaxRetries <= 0 {
		return attempt()
	}

	var status int
	var body []byte
	operation := func() error {
		var err error
		status, body, err = attempt()
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Transient() {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx))
	return status, body, err
}

func (c *Client) usersURL(environmentID string) string {
	return fmt.Sprintf("%s/environments/%s/users", strings.TrimRight(c.cfg.APIBase, "/"), url.PathEscape(environmentID))
}

// userPayload builds the create/patch body. Custom attributes merge in at
// the top level, the way the provider expects schema extensions.
func userPayload(record models.Record) map[string]interface{} {
	payload := make(map[string]interface{})
	if record.Username != "" {
		payload["username"] = record.Username
	}
	if record.Email != "" {
		payload["email"] = record.Email
	}
	if record.GivenName != "" || record.FamilyName != "" {
		name := make(map[string]string)
		if record.GivenName != "" {
			name["given"] = record.GivenName
		}
		if record.FamilyName != "" {
			name["family"] = record.FamilyName
		}
		payload["name"] = name
	}
	if record.PopulationID != "" {
		payload["population"] = map[string]string{"id": record.PopulationID}
	}
	for key, value := range record.Attributes {
		if _, taken := payload[key]; !taken {
			payload[key] = value
		}
	}
	return payload
}

func errorResult(identifier string, err error) models.OperationResult {
	result := models.OperationResult{
		Identifier: identifier,
		Status:     models.ResultError,
		Message:    err.Error(),
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		result.Message = apiErr.Message
		result.RawError = apiErr.Body
	}
	return result
}

func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Details []struct {
			Message string `json:"message"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if len(payload.Details) > 0 && payload.Details[0].Message != "" {
			return payload.Details[0].Message
		}
	}
	return "request rejected by provider"
}

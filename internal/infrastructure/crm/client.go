package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

// TokenSource supplies the bearer token for every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Options struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client talks to the CRM REST API. 429 and 5xx responses are retried with
// backoff, honouring Retry-After.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.hubapi.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchRequest struct {
	FilterGroups []struct {
		Filters []searchFilter `json:"filters"`
	} `json:"filterGroups"`
	Properties []string `json:"properties,omitempty"`
	Limit      int      `json:"limit"`
}

type searchResponse struct {
	Results []object `json:"results"`
}

func newSearch(limit int, properties []string, filters ...searchFilter) searchRequest {
	req := searchRequest{Properties: properties, Limit: limit}
	req.FilterGroups = append(req.FilterGroups, struct {
		Filters []searchFilter `json:"filters"`
	}{Filters: filters})
	return req
}

var companyProperties = []string{"name", "domain"}

func (c *Client) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	var resp searchResponse
	req := newSearch(1, []string{"email"}, searchFilter{PropertyName: "email", Operator: "EQ", Value: email})
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search contact: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	contact := toContact(resp.Results[0])
	return &contact, nil
}

func (c *Client) CreateContact(ctx context.Context, properties map[string]string) (domain.Contact, error) {
	var resp object
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", map[string]any{"properties": properties}, &resp); err != nil {
		return domain.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	return toContact(resp), nil
}

func (c *Client) UpdateContact(ctx context.Context, contactID string, properties map[string]string) (domain.Contact, error) {
	var resp object
	path := "/crm/v3/objects/contacts/" + url.PathEscape(contactID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]any{"properties": properties}, &resp); err != nil {
		return domain.Contact{}, fmt.Errorf("update contact: %w", err)
	}
	return toContact(resp), nil
}

func (c *Client) FindCompanyByDomain(ctx context.Context, companyDomain string) (*domain.Company, error) {
	var resp searchResponse
	req := newSearch(1, companyProperties, searchFilter{PropertyName: "domain", Operator: "EQ", Value: companyDomain})
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/companies/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search company by domain: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	company := toCompany(resp.Results[0])
	return &company, nil
}

func (c *Client) SearchCompaniesByName(ctx context.Context, name string, limit int) ([]domain.Company, error) {
	if limit <= 0 {
		limit = 10
	}
	var resp searchResponse
	req := newSearch(limit, companyProperties, searchFilter{PropertyName: "name", Operator: "CONTAINS_TOKEN", Value: name})
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/companies/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search company by name: %w", err)
	}
	out := make([]domain.Company, 0, len(resp.Results))
	for _, obj := range resp.Results {
		out = append(out, toCompany(obj))
	}
	return out, nil
}

func (c *Client) AssociateContactWithCompany(ctx context.Context, contactID, companyID string) error {
	path := fmt.Sprintf("/crm/v4/objects/contacts/%s/associations/default/companies/%s",
		url.PathEscape(contactID), url.PathEscape(companyID))
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("associate contact with company: %w", err)
	}
	return nil
}

func (c *Client) CreateTask(ctx context.Context, task domain.TaskRequest) (string, error) {
	payload := map[string]any{
		"properties": map[string]string{
			"hs_task_subject":  task.Subject,
			"hs_task_body":     task.Body,
			"hs_task_status":   "NOT_STARTED",
			"hubspot_owner_id": task.AssigneeID,
		},
		"associations": []map[string]any{{
			"to": map[string]string{"id": task.ContactID},
			"types": []map[string]any{{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   204,
			}},
		}},
	}
	var resp object
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/tasks", payload, &resp); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return resp.ID, nil
}

// ListContactProperties returns the names of every contact property.
func (c *Client) ListContactProperties(ctx context.Context) ([]string, error) {
	var resp struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/crm/v3/properties/contacts", nil, &resp); err != nil {
		return nil, fmt.Errorf("list contact properties: %w", err)
	}
	names := make([]string, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

func toContact(obj object) domain.Contact {
	return domain.Contact{ID: obj.ID, Email: obj.Properties["email"], Properties: obj.Properties}
}

func toCompany(obj object) domain.Company {
	return domain.Company{ID: obj.ID, Name: obj.Properties["name"], Domain: obj.Properties["domain"]}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.tokens == nil {
		return fmt.Errorf("crm token source is required")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty access token", domain.ErrAuthExpired)
	}

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode crm response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return newAPIError(resp.StatusCode, respBody)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

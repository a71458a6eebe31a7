package crm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a non-2xx CRM response.
type APIError struct {
	Status   int
	Category string
	Message  string
	Body     []byte
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: body, Message: strings.TrimSpace(string(body))}
	var parsed struct {
		Category string `json:"category"`
		Message  string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Category = parsed.Category
		if strings.TrimSpace(parsed.Message) != "" {
			e.Message = parsed.Message
		}
	}
	return e
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("crm request failed: status=%d category=%s message=%s", e.Status, e.Category, e.Message)
	}
	return fmt.Sprintf("crm request failed: status=%d message=%s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) ResponseBody() []byte { return e.Body }

package importing

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
)

type ErrorClass string

const (
	ClassAuthExpired ErrorClass = "authExpired"
	ClassRateLimited ErrorClass = "rateLimited"
	ClassNotFound    ErrorClass = "notFound"
	ClassTransient   ErrorClass = "transient"
	ClassUnknown     ErrorClass = "unknown"
)

// ExpiredAuthMarker is the vendor category the CRM puts on responses for a
// revoked or expired integration token.
const ExpiredAuthMarker = "EXPIRED_AUTHENTICATION"

// The CRM SDKs surface failures in several shapes. Each interface below is
// one of them; Classify checks all of them.
type (
	statusCoder   interface{ StatusCode() int }
	httpStatuser  interface{ HTTPStatus() int }
	codeCarrier   interface{ Code() int }
	bodyCarrier   interface{ ResponseBody() []byte }
	detailCarrier interface{ Details() map[string]any }
)

var bodyFields = map[string]struct{}{
	"message":           {},
	"error":             {},
	"error_description": {},
	"category":          {},
	"status":            {},
	"statusCode":        {},
	"code":              {},
	"detail":            {},
}

// Classify maps an error from the CRM boundary onto a closed set of classes.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, ErrAuthExpired) {
		return ClassAuthExpired
	}

	status := statusOf(err)
	if status == http.StatusUnauthorized || hasAuthMarker(err) {
		return ClassAuthExpired
	}

	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassUnknown
}

func IsAuthError(err error) bool {
	return Classify(err) == ClassAuthExpired
}

func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		return sc.StatusCode()
	}
	var hs httpStatuser
	if errors.As(err, &hs) && hs.HTTPStatus() != 0 {
		return hs.HTTPStatus()
	}
	var cc codeCarrier
	if errors.As(err, &cc) && cc.Code() != 0 {
		return cc.Code()
	}
	return 0
}

func hasAuthMarker(err error) bool {
	if messageHasAuthMarker(err.Error()) {
		return true
	}
	var bc bodyCarrier
	if errors.As(err, &bc) {
		var decoded any
		if body := bc.ResponseBody(); len(body) > 0 {
			if json.Unmarshal(body, &decoded) == nil {
				if valueHasAuthMarker(decoded, false) {
					return true
				}
			} else if messageHasAuthMarker(string(body)) {
				return true
			}
		}
	}
	var dc detailCarrier
	if errors.As(err, &dc) && valueHasAuthMarker(dc.Details(), false) {
		return true
	}
	return false
}

func messageHasAuthMarker(message string) bool {
	if strings.Contains(message, ExpiredAuthMarker) || strings.Contains(message, "401") {
		return true
	}
	return strings.Contains(strings.ToLower(message), "expired")
}

// valueHasAuthMarker walks a decoded JSON value. Strings and numbers are only
// inspected when they sit under one of bodyFields.
func valueHasAuthMarker(value any, relevant bool) bool {
	switch v := value.(type) {
	case map[string]any:
		for key, nested := range v {
			_, ok := bodyFields[key]
			if valueHasAuthMarker(nested, ok) {
				return true
			}
		}
	case []any:
		for _, nested := range v {
			if valueHasAuthMarker(nested, relevant) {
				return true
			}
		}
	case string:
		return relevant && messageHasAuthMarker(v)
	case float64:
		return relevant && v == http.StatusUnauthorized
	case int:
		return relevant && v == http.StatusUnauthorized
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return relevant && err == nil && n == http.StatusUnauthorized
	}
	return false
}

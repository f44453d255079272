package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Classification is the category the Classifier assigns to an Outcome.
type Classification string

const (
	Success          Classification = "Success"
	ApplicationError Classification = "ApplicationError"
	SoftAuthExpiry   Classification = "SoftAuthExpiry"
	HardAuthFailure  Classification = "HardAuthFailure"
	// RefreshFailure is never produced by Classify. It marks errors raised
	// when the refresh call itself fails.
	RefreshFailure Classification = "RefreshFailure"
)

// IsAuth reports whether the classification concerns the session rather
// than the request.
func (c Classification) IsAuth() bool {
	return c == SoftAuthExpiry || c == HardAuthFailure || c == RefreshFailure
}

// ClassifierConfig holds the backend contract the Classifier reads.
type ClassifierConfig struct {
	// HardFailureCodes are body codes that end the session regardless of
	// HTTP status. Defaults to SESSION_REVOKED.
	HardFailureCodes []string
	// EnvelopePath is the gjson path of the payload in a success body.
	EnvelopePath string
}

// Classifier maps transport outcomes to classifications and produces the
// payload or normalized error for each. It is stateless and safe for
// concurrent use.
type Classifier struct {
	hardCodes    map[string]struct{}
	envelopePath string
}

// NewClassifier creates a Classifier, filling defaults for empty fields.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	codes := cfg.HardFailureCodes
	if len(codes) == 0 {
		codes = []string{domain.SessionRevokedCode}
	}
	hard := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code = strings.TrimSpace(code); code != "" {
			hard[code] = struct{}{}
		}
	}
	path := cfg.EnvelopePath
	if path == "" {
		path = domain.EnvelopePath
	}
	return &Classifier{hardCodes: hard, envelopePath: path}
}

// Classify applies, in order: a hard-failure body code (any status), then
// status 401 or no response, then any other non-2xx, then success.
func (c *Classifier) Classify(o Outcome) Classification {
	if code := bodyField(o.Body, "code"); code != "" {
		if _, hard := c.hardCodes[code]; hard {
			return HardAuthFailure
		}
	}
	switch {
	case o.Status == 0 || o.Status == http.StatusUnauthorized:
		return SoftAuthExpiry
	case o.Status >= 200 && o.Status < 300:
		return Success
	default:
		return ApplicationError
	}
}

// Unwrap returns the payload found at the envelope path of a success body.
// An empty body or a body without the envelope yields a nil payload.
func (c *Classifier) Unwrap(o Outcome) (json.RawMessage, error) {
	if len(o.Body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(o.Body) {
		return nil, &Error{
			Classification: ApplicationError,
			HTTPStatus:     o.Status,
			Message:        "malformed response body",
		}
	}
	r := gjson.GetBytes(o.Body, c.envelopePath)
	if !r.Exists() {
		return nil, nil
	}
	return json.RawMessage(r.Raw), nil
}

// Normalize builds the error surfaced for an outcome under class.
func (c *Classifier) Normalize(o Outcome, class Classification) *Error {
	e := &Error{
		Classification: class,
		HTTPStatus:     o.Status,
		Code:           bodyField(o.Body, "code"),
		Message:        bodyField(o.Body, "message"),
		IsAuthError:    class.IsAuth(),
		cause:          o.Err,
	}
	if e.Message == "" {
		e.Message = fallbackMessage(o)
	}
	return e
}

func bodyField(body []byte, field string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	r := gjson.GetBytes(body, field)
	if !r.Exists() || r.IsObject() || r.IsArray() {
		return ""
	}
	return r.String()
}

func fallbackMessage(o Outcome) string {
	if o.Status == 0 {
		if o.Err != nil {
			return fmt.Sprintf("no response: %v", o.Err)
		}
		return "no response"
	}
	if text := http.StatusText(o.Status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", o.Status)
}

// tokenResponse extracts a credential pair from a refresh or login body. The
// tokens may sit at the root or under the envelope path.
func (c *Classifier) tokenResponse(body []byte) (access, refresh string, ok bool) {
	if !gjson.ValidBytes(body) {
		return "", "", false
	}
	for _, prefix := range []string{"", c.envelopePath + "."} {
		a := gjson.GetBytes(body, prefix+"accessToken")
		if a.Type != gjson.String || a.Str == "" {
			continue
		}
		return a.Str, gjson.GetBytes(body, prefix+"refreshToken").Str, true
	}
	return "", "", false
}

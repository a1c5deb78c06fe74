package event

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Trigger is the record the webhook relay hands to the function. Body holds
// the JSON payload, either as an encoded string (function URLs, API Gateway)
// or inline.
type Trigger struct {
	Body json.RawMessage `json:"body"`
}

// Payload is the JSON body sent by the Openpath rules engine.
type Payload struct {
	UserID    *FlexInt `json:"userId" jsonschema:"required,description=Openpath user id"`
	Timestamp *FlexInt `json:"timestamp" jsonschema:"required,description=Unlock time in epoch seconds"`
	EntryID   string   `json:"entryId,omitempty" jsonschema:"description=Entry name (e.g. OnDuty Check In)"`
	Entry     string   `json:"entry,omitempty" jsonschema:"description=Legacy alias for entryId"`
	APIKey    string   `json:"apiKey" jsonschema:"required,description=Shared secret configured in the rules engine"`
}

// FlexInt accepts both JSON numbers and numeric strings.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %q as integer: %w", data, err)
	}
	*f = FlexInt(n)
	return nil
}

// Options configures a Decoder.
type Options struct {
	APIKey        string
	ClockInEntry  string
	ClockOutEntry string
	Location      *time.Location
}

// Decoder turns trigger records into clock events and checks the shared
// secret.
type Decoder struct {
	apiKey   string
	clockIn  string
	clockOut string
	loc      *time.Location
	logger   *slog.Logger
}

func NewDecoder(opts Options, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Decoder{
		apiKey:   opts.APIKey,
		clockIn:  opts.ClockInEntry,
		clockOut: opts.ClockOutEntry,
		loc:      loc,
		logger:   logger,
	}
}

// Decode parses a full trigger record ({"body": ...}).
func (d *Decoder) Decode(raw []byte) (ClockEvent, error) {
	var trigger Trigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		d.logger.Error("Error parsing event", "event", Redact(raw), "error", err)
		return ClockEvent{}, &MalformedEventError{Reason: "trigger is not a JSON object", Err: err}
	}

	body := bytes.TrimSpace(trigger.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		d.logger.Error("Error parsing event", "event", Redact(raw))
		return ClockEvent{}, &MalformedEventError{Reason: "missing body"}
	}

	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return ClockEvent{}, &MalformedEventError{Reason: "body is not a string", Err: err}
		}
		body = []byte(s)
	}

	return d.DecodeBody(body)
}

// DecodeBody parses the payload itself, as posted directly to the HTTP
// server.
func (d *Decoder) DecodeBody(body []byte) (ClockEvent, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		d.logger.Error("Error parsing event", "body", Redact(body), "error", err)
		return ClockEvent{}, &MalformedEventError{Reason: "body is not valid JSON", Err: err}
	}

	if p.APIKey == "" {
		d.logger.Error("Error parsing event", "body", Redact(body), "missing", []string{"apiKey"})
		return ClockEvent{}, &MalformedEventError{Reason: "missing keys: apiKey"}
	}
	if !d.authorized(p.APIKey) {
		d.logger.Error("Invalid API key")
		userID := ""
		if p.UserID != nil {
			userID = strconv.FormatInt(int64(*p.UserID), 10)
		}
		return ClockEvent{}, &AuthorizationError{UserID: userID}
	}

	entry := p.EntryID
	if entry == "" {
		entry = p.Entry
	}

	var missing []string
	if entry == "" {
		missing = append(missing, "entryId")
	}
	if p.UserID == nil {
		missing = append(missing, "userId")
	}
	if p.Timestamp == nil {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		d.logger.Error("Error parsing event", "body", Redact(body), "missing", missing)
		return ClockEvent{}, &MalformedEventError{Reason: "missing keys: " + strings.Join(missing, ", ")}
	}

	ev := NewClockEvent(entry, d.classify(entry), int(*p.UserID), int64(*p.Timestamp), d.loc)

	d.logger.Info("Parsed event",
		"entryId", ev.Entry,
		"timestamp", ev.Timestamp,
		"userId", ev.UserID,
		"kind", ev.Kind.String(),
	)

	return ev, nil
}

// Rebuild classifies a previously decoded event again, for replaying
// logged events.
func (d *Decoder) Rebuild(entry string, userID int, timestamp int64) ClockEvent {
	return NewClockEvent(entry, d.classify(entry), userID, timestamp, d.loc)
}

func (d *Decoder) authorized(key string) bool {
	if d.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(d.apiKey)) == 1
}

func (d *Decoder) classify(entry string) Kind {
	switch entry {
	case d.clockIn:
		return ClockIn
	case d.clockOut:
		return ClockOut
	default:
		return Other
	}
}

const redacted = "[REDACTED]"

// Redact returns raw with any apiKey field masked, recursing into an
// embedded string body. Input that is not JSON is replaced by its length.
func Redact(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Sprintf("<%d bytes of non-JSON input>", len(raw))
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return fmt.Sprintf("<%d bytes>", len(raw))
	}
	return string(out)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.EqualFold(k, "apiKey") {
				t[k] = redacted
				continue
			}
			t[k] = redactValue(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") {
			var inner any
			if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
				if out, err := json.Marshal(redactValue(inner)); err == nil {
					return string(out)
				}
			}
		}
		return t
	default:
		return v
	}
}

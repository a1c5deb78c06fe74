package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/ledger"
	"github.com/asmbly/odvclock/internal/onduty"
)

type recordingHandler struct {
	raw  string
	body string
}

func (r *recordingHandler) Handle(_ context.Context, raw []byte) (onduty.Response, error) {
	r.raw = string(raw)
	return onduty.Response{StatusCode: 200}, nil
}

func (r *recordingHandler) HandleBody(_ context.Context, body []byte) (onduty.Response, error) {
	r.body = string(body)
	return onduty.Response{StatusCode: 200}, nil
}

func TestLambdaHandlerDecodesBase64Bodies(t *testing.T) {
	h := &recordingHandler{}
	body := `{"userId":1,"timestamp":2,"entryId":"OnDuty Check In","apiKey":"k"}`
	raw, _ := json.Marshal(map[string]any{
		"body":            base64.StdEncoding.EncodeToString([]byte(body)),
		"isBase64Encoded": true,
	})

	resp, err := lambdaHandler(h)(context.Background(), raw)
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("got %+v, %v", resp, err)
	}
	if h.body != body {
		t.Errorf("HandleBody saw %q", h.body)
	}
	if h.raw != "" {
		t.Error("Handle should not have been called")
	}
}

func TestLambdaHandlerPassesPlainRecords(t *testing.T) {
	h := &recordingHandler{}
	raw := json.RawMessage(`{"body":"{\"userId\":1}"}`)

	if _, err := lambdaHandler(h)(context.Background(), raw); err != nil {
		t.Fatal(err)
	}
	if h.raw != string(raw) {
		t.Errorf("Handle saw %q", h.raw)
	}
}

func TestLambdaHandlerBadBase64(t *testing.T) {
	raw := json.RawMessage(`{"body":"%%%","isBase64Encoded":true}`)
	_, err := lambdaHandler(&recordingHandler{})(context.Background(), raw)
	var malformed *event.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Errorf("expected MalformedEventError, got %v", err)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 1, 30, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-01-02", now)
	if err != nil || !got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("plain date: got %v, %v", got, err)
	}

	got, err = parseSince("3 days ago", now)
	if err != nil {
		t.Fatalf("natural phrase: %v", err)
	}
	if !got.Before(now) || now.Sub(got) < 71*time.Hour {
		t.Errorf("3 days ago: got %v", got)
	}

	got, err = parseSince("", now)
	if err != nil || !got.IsZero() {
		t.Errorf("empty: got %v, %v", got, err)
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{2*time.Hour + 5*time.Minute + 9*time.Second, "2:05:09"},
		{26 * time.Hour, "26:00:00"},
	}
	for _, tt := range tests {
		if got := formatHours(tt.d); got != tt.want {
			t.Errorf("formatHours(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrintShifts(t *testing.T) {
	in := time.Date(2024, 1, 30, 15, 54, 0, 0, time.UTC)
	shifts := []ledger.Shift{
		{ID: uuid.New(), Volunteer: "Joe Shmoe", Status: ledger.StatusClosed, Date: "01/30/2024",
			TimeIn: "09:54 AM", TimeOut: "12:54 PM", ClockInAt: in, ClockOutAt: in.Add(3 * time.Hour)},
		{ID: uuid.New(), Volunteer: "Jane Roe", Status: ledger.StatusOpen, Date: "01/30/2024",
			TimeIn: "10:00 AM", ClockInAt: in.Add(6 * time.Minute)},
	}

	var buf bytes.Buffer
	printShifts(&buf, shifts, time.Time{}, time.UTC)
	out := buf.String()

	for _, want := range []string{"Joe Shmoe", "Jane Roe", "3:00:00", "2024-01-30", "Total: 3:00:00 (2 shifts)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printShifts(&buf, nil, time.Time{}, time.UTC)
	if !strings.Contains(buf.String(), "No shifts recorded.") {
		t.Errorf("empty output: %s", buf.String())
	}
}

func TestRootStartsLambdaOnlyInsideLambda(t *testing.T) {
	started := 0
	orig := startLambda
	startLambda = func(*cobra.Command, []string) error {
		started++
		return nil
	}
	t.Cleanup(func() { startLambda = orig })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	if err := rootCmd.RunE(rootCmd, nil); err != nil {
		t.Fatalf("help: %v", err)
	}
	if started != 0 {
		t.Error("lambda runtime started outside Lambda")
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("expected help output, got %q", out.String())
	}

	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "odv-clock")
	if err := rootCmd.RunE(rootCmd, nil); err != nil {
		t.Fatalf("lambda: %v", err)
	}
	if started != 1 {
		t.Errorf("expected the lambda runtime to start once, got %d", started)
	}
}

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/volunteer"
)

type fakeSlack struct {
	emailUser  string
	members    string // users.list members JSON array
	channel    []string
	apiCalls   int32
	mu         sync.Mutex
	webhook    []byte
	webhookHit int32
	webhookErr bool
}

func (f *fakeSlack) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/users.lookupByEmail":
			atomic.AddInt32(&f.apiCalls, 1)
			if f.emailUser == "" {
				io.WriteString(w, `{"ok":false,"error":"users_not_found"}`)
				return
			}
			io.WriteString(w, `{"ok":true,"user":{"id":"`+f.emailUser+`"}}`)
		case "/api/users.list":
			atomic.AddInt32(&f.apiCalls, 1)
			io.WriteString(w, `{"ok":true,"members":`+f.members+`,"response_metadata":{"next_cursor":""}}`)
		case "/api/conversations.members":
			atomic.AddInt32(&f.apiCalls, 1)
			data, _ := json.Marshal(f.channel)
			io.WriteString(w, `{"ok":true,"members":`+string(data)+`,"response_metadata":{"next_cursor":""}}`)
		case "/webhook":
			atomic.AddInt32(&f.webhookHit, 1)
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.webhook = body
			f.mu.Unlock()
			if f.webhookErr {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			io.WriteString(w, "ok")
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeSlack) payload() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.webhook)
}

func newTestNotifier(t *testing.T, f *fakeSlack, logger *slog.Logger) *Notifier {
	srv := f.server(t)
	return NewNotifier(Options{
		Token:           "xoxb-test",
		WebhookURL:      srv.URL + "/webhook",
		OnDutyChannelID: "C0DUTY",
		APIURL:          srv.URL + "/api/",
	}, logger)
}

var joe = volunteer.New(13804489, "Joe", "Shmoe", "test@testemail.com")

func TestResolveByEmail(t *testing.T) {
	f := &fakeSlack{emailUser: "U_EMAIL", members: `[]`}
	n := newTestNotifier(t, f, nil)

	if got := n.ResolveHandle(context.Background(), joe); got != "U_EMAIL" {
		t.Errorf("got %q, want U_EMAIL", got)
	}
	if calls := atomic.LoadInt32(&f.apiCalls); calls != 1 {
		t.Errorf("email match should stop the lookup, got %d calls", calls)
	}
}

func TestResolveByFullName(t *testing.T) {
	f := &fakeSlack{members: `[
		{"id":"U1","profile":{"real_name":"Joe Bloggs"}},
		{"id":"U2","profile":{"real_name":"Joe Shmoe"}}
	]`}
	n := newTestNotifier(t, f, nil)

	if got := n.ResolveHandle(context.Background(), joe); got != "U2" {
		t.Errorf("got %q, want U2", got)
	}
}

func TestResolveSingleChannelCandidate(t *testing.T) {
	f := &fakeSlack{
		members: `[
			{"id":"U1","profile":{"real_name":"Joe B"}},
			{"id":"U2","profile":{"real_name":"Joey S"}}
		]`,
		channel: []string{"U2", "U9"},
	}
	n := newTestNotifier(t, f, nil)

	if got := n.ResolveHandle(context.Background(), joe); got != "U2" {
		t.Errorf("got %q, want U2", got)
	}
}

func TestResolveAmbiguousReturnsEmpty(t *testing.T) {
	f := &fakeSlack{
		members: `[
			{"id":"U1","profile":{"real_name":"Joe B"}},
			{"id":"U2","profile":{"real_name":"Joe S"}}
		]`,
		channel: []string{"U1", "U2"},
	}
	var buf bytes.Buffer
	n := newTestNotifier(t, f, slog.New(slog.NewTextHandler(&buf, nil)))

	if got := n.ResolveHandle(context.Background(), joe); got != "" {
		t.Errorf("ambiguous name must not resolve, got %q", got)
	}
	if !strings.Contains(buf.String(), "ambiguous") {
		t.Errorf("expected an ambiguity log, got %q", buf.String())
	}
}

func TestResolveWithoutTokenSkipsLookup(t *testing.T) {
	f := &fakeSlack{}
	srv := f.server(t)
	n := NewNotifier(Options{APIURL: srv.URL + "/api/"}, nil)

	if got := n.ResolveHandle(context.Background(), joe); got != "" {
		t.Errorf("got %q", got)
	}
	if calls := atomic.LoadInt32(&f.apiCalls); calls != 0 {
		t.Errorf("expected no API calls, got %d", calls)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name   string
		kind   event.Kind
		handle string
		want   []string
	}{
		{"mention on", event.ClockIn, "U2", []string{`"type":"rich_text"`, `"type":"user"`, `"user_id":"U2"`, ` is now on duty.`}},
		{"bold off", event.ClockOut, "", []string{`"text":"Joe Shmoe"`, `"bold":true`, ` is now off duty.`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Message(tt.kind, joe, tt.handle))
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(data), want) {
					t.Errorf("payload %s missing %s", data, want)
				}
			}
		})
	}
}

func TestAnnouncePostsWebhook(t *testing.T) {
	f := &fakeSlack{}
	n := newTestNotifier(t, f, nil)

	n.Announce(context.Background(), event.ClockIn, joe, "U2")
	if atomic.LoadInt32(&f.webhookHit) != 1 {
		t.Fatal("webhook not called")
	}
	if !strings.Contains(f.payload(), "is now on duty.") {
		t.Errorf("unexpected payload %s", f.payload())
	}
}

func TestAnnounceSwallowsErrors(t *testing.T) {
	f := &fakeSlack{webhookErr: true}
	var buf bytes.Buffer
	n := newTestNotifier(t, f, slog.New(slog.NewTextHandler(&buf, nil)))

	n.Announce(context.Background(), event.ClockOut, joe, "")
	if !strings.Contains(buf.String(), "Posting Slack message failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

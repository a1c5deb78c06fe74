// Package chat announces on-duty changes in Slack.
package chat

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/volunteer"
)

// usersPageLimit is the users.list page size.
const usersPageLimit = 300

type Options struct {
	Token           string
	WebhookURL      string
	OnDutyChannelID string
	// APIURL overrides the Slack Web API base URL. It must end in a slash.
	APIURL  string
	Timeout time.Duration
}

type Notifier struct {
	api        *slack.Client
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

func NewNotifier(opts Options, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	slackOpts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if opts.APIURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(opts.APIURL))
	}

	return &Notifier{
		api:        slack.New(opts.Token, slackOpts...),
		httpClient: httpClient,
		opts:       opts,
		logger:     logger,
	}
}

// ResolveHandle finds v's Slack user id. It returns "" rather than guess
// when the name is ambiguous or nothing matches.
func (n *Notifier) ResolveHandle(ctx context.Context, v volunteer.Volunteer) string {
	if n.opts.Token == "" {
		return ""
	}

	if v.Email != "" {
		user, err := n.api.GetUserByEmailContext(ctx, v.Email)
		switch {
		case err == nil && user != nil && user.ID != "":
			return user.ID
		case err != nil && err.Error() != "users_not_found":
			n.logger.Warn("Slack email lookup failed", "error", err)
		}
	}

	users, err := n.api.GetUsersContext(ctx, slack.GetUsersOptionLimit(usersPageLimit))
	if err != nil {
		n.logger.Error("Listing Slack users failed", "error", err)
		return ""
	}

	for _, u := range users {
		if realName(u) == v.FullName {
			return u.ID
		}
	}

	candidates := map[string]bool{}
	for _, u := range users {
		if v.FirstName != "" && strings.Contains(realName(u), v.FirstName) {
			candidates[u.ID] = true
		}
	}
	if len(candidates) == 0 {
		n.logger.Info("Slack user not found for: " + v.FullName)
		return ""
	}

	members, err := n.channelMembers(ctx)
	if err != nil {
		n.logger.Error("Listing on-duty channel members failed", "error", err)
		return ""
	}

	var match []string
	for _, id := range members {
		if candidates[id] {
			match = append(match, id)
		}
	}
	if len(match) == 1 {
		return match[0]
	}

	n.logger.Info("Volunteer's name is ambiguous in Slack, so we aren't mentioning them",
		"first_name", v.FirstName, "candidates", len(match))
	return ""
}

func realName(u slack.User) string {
	if u.Profile.RealName != "" {
		return u.Profile.RealName
	}
	return u.RealName
}

func (n *Notifier) channelMembers(ctx context.Context) ([]string, error) {
	var all []string
	params := &slack.GetUsersInConversationParameters{ChannelID: n.opts.OnDutyChannelID, Limit: usersPageLimit}
	for {
		members, cursor, err := n.api.GetUsersInConversationContext(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, members...)
		if cursor == "" {
			return all, nil
		}
		params.Cursor = cursor
	}
}

// Message builds the webhook payload: a mention when handle is known, the
// bold full name otherwise.
func Message(kind event.Kind, v volunteer.Volunteer, handle string) *slack.WebhookMessage {
	suffix := " is now on duty."
	if kind == event.ClockOut {
		suffix = " is now off duty."
	}

	var who slack.RichTextSectionElement
	if handle != "" {
		who = slack.NewRichTextSectionUserElement(handle, nil)
	} else {
		who = slack.NewRichTextSectionTextElement(v.FullName, &slack.RichTextSectionTextStyle{Bold: true})
	}

	section := slack.NewRichTextSection(who, slack.NewRichTextSectionTextElement(suffix, nil))
	return &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{slack.NewRichTextBlock("", section)}},
	}
}

// Announce posts the on/off duty message. Failures are logged, never
// returned: the ledger has already been updated by the time this runs.
func (n *Notifier) Announce(ctx context.Context, kind event.Kind, v volunteer.Volunteer, handle string) {
	if n.opts.WebhookURL == "" {
		n.logger.Debug("Slack webhook not configured, skipping announcement")
		return
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.opts.WebhookURL, n.httpClient, Message(kind, v, handle)); err != nil {
		n.logger.Error("Posting Slack message failed", "error", err, "volunteer", v.FullName)
		return
	}
	n.logger.Info("Posted Slack message", "volunteer", v.FullName, "kind", kind.String(), "mention", handle != "")
}

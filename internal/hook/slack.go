package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/slack-go/slack"
)

// maxListedResults limits the failed results listed in a single message.
const maxListedResults = 20

// SlackHook posts a message to a slack channel when the most recent run
// group of a refreshed snapshot contains failed or broken results.
type SlackHook struct {
	api             *slack.Client
	notifyChannelID string
	dashboardURL    string

	mu           sync.Mutex
	lastNotified string

	log *slog.Logger
}

func NewSlackHook(channelID, token, dashboardURL string, log *slog.Logger, opts ...slack.Option) *SlackHook {
	return &SlackHook{
		api:             slack.New(token, opts...),
		notifyChannelID: channelID,
		dashboardURL:    dashboardURL,
		log:             log,
	}
}

func (h *SlackHook) Name() string {
	return "Slack"
}

func (h *SlackHook) Init() error {
	_, err := h.api.AuthTest()
	if err != nil {
		return fmt.Errorf("invalid auth token: %w", err)
	}

	return nil
}

func (h *SlackHook) RefreshFinishedAsync(ctx context.Context, snapshot *model.Snapshot) {
	if len(snapshot.RunGroups) == 0 {
		return
	}

	group := snapshot.RunGroups[0]
	if group.Failed+group.Broken == 0 {
		return
	}

	// a group is reported once for every distinct outcome
	key := fmt.Sprintf("%s/%d/%d/%d", group.ID, group.Total, group.Failed, group.Broken)

	h.mu.Lock()
	if h.lastNotified == key {
		h.mu.Unlock()
		return
	}
	h.lastNotified = key
	h.mu.Unlock()

	newMarkdownSection := slack.NewSectionBlock(
		slack.NewTextBlockObject(
			"mrkdwn",
			FailureSummary(group, h.dashboardURL),
			false, false,
		),

		nil, nil)

	msg := []slack.MsgOption{
		slack.MsgOptionBlocks(newMarkdownSection),
	}

	_, _, err := h.api.PostMessageContext(ctx, h.notifyChannelID, msg...)
	if err != nil {
		h.log.Error("unable to send slack message", "error", err)
	}
}

// FailureSummary renders the markdown message for a run group.
func FailureSummary(group *model.RunGroup, dashboardURL string) string {
	b := strings.Builder{}

	title := group.Name
	if dashboardURL != "" {
		title = fmt.Sprintf("<%s|%s>", dashboardURL, group.Name)
	}

	b.WriteString(fmt.Sprintf("Test run %s has %d failed and %d broken of %d tests (pass rate %.1f%%).",
		title, group.Failed, group.Broken, group.Total, group.PassRate))
	b.WriteString("\n\n")
	b.WriteString("Results:\n")

	listed := 0
	for _, r := range group.Results {
		if r.Status != model.StatusFailed && r.Status != model.StatusBroken {
			continue
		}

		if listed == maxListedResults {
			b.WriteString("- ...\n")
			break
		}

		b.WriteString(fmt.Sprintf("- %s (%s)\n", r.Name, r.Status))
		listed++
	}

	return b.String()
}

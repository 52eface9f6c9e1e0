package slackconn

import (
	"testing"

	"github.com/oyalabs/sensei/internal/connector"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)

func TestStripMention(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		botID string
		want  string
	}{
		{"mention at start", "<@U12345> hello there", "U12345", "hello there"},
		{"mention in middle", "hey <@U12345> what's up", "U12345", "hey  what's up"},
		{"no mention", "just a message", "U12345", "just a message"},
		{"only mention", "<@U12345>", "U12345", ""},
		{"different bot id", "<@U99999> hello", "U12345", "<@U99999> hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMention(tt.text, tt.botID); got != tt.want {
				t.Errorf("StripMention(%q, %q) = %q, want %q", tt.text, tt.botID, got, tt.want)
			}
		})
	}
}

func TestMarkdownToMrkdwn(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**bold text**", "*bold text*"},
		{"italic", "*italic text*", "_italic text_"},
		{"strikethrough", "~~gone~~", "~gone~"},
		{"link", "[Slack](https://slack.com)", "<https://slack.com|Slack>"},
		{"code untouched", "`*not bold*`", "`*not bold*`"},
		{"plain", "nothing special", "nothing special"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarkdownToMrkdwn(tt.in); got != tt.want {
				t.Errorf("MarkdownToMrkdwn(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSessionAddress(t *testing.T) {
	if got := sessionAddress("U42"); got != "slack:U42" {
		t.Errorf("sessionAddress = %q", got)
	}
}

func TestSplitThread(t *testing.T) {
	channel, ts, ok := splitThread("C123:1700000000.000100")
	if !ok || channel != "C123" || ts != "1700000000.000100" {
		t.Errorf("splitThread threaded = (%q, %q, %v)", channel, ts, ok)
	}

	channel, ts, ok = splitThread("C123")
	if ok || channel != "C123" || ts != "" {
		t.Errorf("splitThread bare = (%q, %q, %v)", channel, ts, ok)
	}
}

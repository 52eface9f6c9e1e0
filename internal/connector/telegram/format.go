package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// The companion replies in a narrow Markdown dialect: fenced and inline
// code, **bold**, *italic*, and [text](url) links. RenderHTML maps that
// onto Telegram's HTML subset; RenderPlain is the fallback when Telegram
// rejects the HTML rendering.

var (
	reCode   = regexp.MustCompile("`([^`]+)`")
	reBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic = regexp.MustCompile(`\*(.+?)\*`)
	reLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// RenderHTML converts a companion reply to Telegram HTML. Fenced blocks
// become <pre><code>; everything outside them gets the inline pass. An
// unterminated fence is treated as code to the end of the reply.
func RenderHTML(reply string) string {
	var b strings.Builder
	for i, seg := range strings.Split(reply, "```") {
		if i%2 == 0 {
			b.WriteString(renderInline(seg))
			continue
		}
		lang, body := splitFence(seg)
		if lang != "" {
			fmt.Fprintf(&b, `<pre><code class="language-%s">%s</code></pre>`, escapeHTML(lang), escapeHTML(body))
		} else {
			b.WriteString("<pre><code>" + escapeHTML(body) + "</code></pre>")
		}
	}
	return b.String()
}

// RenderPlain strips the reply's formatting for a plain-text send. Links
// keep their target as "text (url)".
func RenderPlain(reply string) string {
	var b strings.Builder
	for i, seg := range strings.Split(reply, "```") {
		if i%2 == 1 {
			_, body := splitFence(seg)
			b.WriteString(body)
			continue
		}
		seg = reCode.ReplaceAllString(seg, "$1")
		seg = reBold.ReplaceAllString(seg, "$1")
		seg = reItalic.ReplaceAllString(seg, "$1")
		seg = reLink.ReplaceAllString(seg, "$1 ($2)")
		b.WriteString(seg)
	}
	return b.String()
}

// VoiceCaption prefixes a voice reply with what was heard, so the user
// can spot transcription mistakes.
func VoiceCaption(transcribed, reply string) string {
	if strings.TrimSpace(transcribed) == "" {
		return reply
	}
	return fmt.Sprintf("You said: %s\n\n%s", transcribed, reply)
}

// splitFence separates an optional language id on the fence line from
// the code body.
func splitFence(seg string) (lang, body string) {
	body = seg
	if nl := strings.IndexByte(seg, '\n'); nl >= 0 {
		if l := strings.TrimSpace(seg[:nl]); l != "" && !strings.ContainsAny(l, " \t") {
			lang = l
			body = seg[nl+1:]
		}
	}
	body = strings.TrimPrefix(body, "\n")
	return lang, strings.TrimSuffix(body, "\n")
}

// renderInline handles one non-fenced segment. Inline code is carved out
// first so markdown inside backticks stays literal.
func renderInline(seg string) string {
	var b strings.Builder
	for {
		loc := reCode.FindStringSubmatchIndex(seg)
		if loc == nil {
			b.WriteString(renderSpans(seg))
			return b.String()
		}
		b.WriteString(renderSpans(seg[:loc[0]]))
		b.WriteString("<code>" + escapeHTML(seg[loc[2]:loc[3]]) + "</code>")
		seg = seg[loc[1]:]
	}
}

func renderSpans(text string) string {
	text = escapeHTML(text)
	// Bold before italic, ** would otherwise match twice as *.
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reItalic.ReplaceAllString(text, "<i>$1</i>")
	text = reLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	return text
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

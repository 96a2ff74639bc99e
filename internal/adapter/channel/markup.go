package channel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeBlockRe   = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	inlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	headerRe      = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	blockquoteRe  = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldStarRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe   = regexp.MustCompile(`__(.+?)__`)
	italicRe      = regexp.MustCompile(`(^|[^a-zA-Z0-9_])_([^_]+)_($|[^a-zA-Z0-9_])`)
	strikeRe      = regexp.MustCompile(`~~(.+?)~~`)
	bulletRe      = regexp.MustCompile(`(?m)^[-*]\s+`)
	placeholderRe = regexp.MustCompile(`\x00(CB|IC)(\d+)\x00`)
	htmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// MarkdownToTelegramHTML converts the markdown an LLM typically produces to
// the HTML subset Telegram accepts. Code spans are escaped and left
// otherwise untouched.
func MarkdownToTelegramHTML(text string) string {
	if text == "" {
		return ""
	}

	var blocks, inline []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, codeBlockRe.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00CB%d\x00", len(blocks)-1)
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		inline = append(inline, inlineCodeRe.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00IC%d\x00", len(inline)-1)
	})

	text = headerRe.ReplaceAllString(text, "$1")
	text = blockquoteRe.ReplaceAllString(text, "$1")
	text = htmlEscaper.Replace(text)
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "$1<i>$2</i>$3")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = bulletRe.ReplaceAllString(text, "• ")

	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		i, _ := strconv.Atoi(sub[2])
		if sub[1] == "CB" && i < len(blocks) {
			return "<pre><code>" + htmlEscaper.Replace(blocks[i]) + "</code></pre>"
		}
		if sub[1] == "IC" && i < len(inline) {
			return "<code>" + htmlEscaper.Replace(inline[i]) + "</code>"
		}
		return m
	})
}

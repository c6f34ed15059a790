package analyzer

import (
	"strings"
	"unicode/utf8"
)

// maxReplyRunes caps reply length; longer text reads as generated.
const maxReplyRunes = 60

// Phrases that give the reply away as machine-written.
var botTells = []string{
	"作为AI", "作为一个AI", "作为人工智能", "我是AI", "我是一个语言模型",
	"抱歉,我无法", "希望这能帮到你",
}

// humanizeReply cleans a model-written reply so it reads like something a
// person typed on a phone: no markdown, no wrapping quotes, no assistant
// boilerplate, bounded length.
func humanizeReply(s string) string {
	s = strings.TrimSpace(s)

	// Strip wrapping quotes the model sometimes adds.
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) > len(pair[0])+len(pair[1]) {
			s = strings.TrimSuffix(strings.TrimPrefix(s, pair[0]), pair[1])
		}
	}

	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "\n", " ")

	for _, tell := range botTells {
		if strings.Contains(s, tell) {
			return ""
		}
	}

	if utf8.RuneCountInString(s) > maxReplyRunes {
		runes := []rune(s)
		s = string(runes[:maxReplyRunes])
	}
	return strings.TrimSpace(s)
}

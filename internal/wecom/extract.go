package wecom

import (
	"regexp"
	"strings"
	"sync"
)

// Fields read from a decrypted message body.
const (
	TagEncrypt      = "Encrypt"
	TagMsgType      = "MsgType"
	TagEvent        = "Event"
	TagFromUserName = "FromUserName"
	TagToUserName   = "ToUserName"
	TagCreateTime   = "CreateTime"
	TagContent      = "Content"
	TagMsgID        = "MsgId"
	TagAgentID      = "AgentID"
)

// MessageTags is the fixed field set extracted from every event message.
var MessageTags = []string{
	TagMsgType,
	TagEvent,
	TagFromUserName,
	TagToUserName,
	TagCreateTime,
	TagContent,
	TagMsgID,
	TagAgentID,
}

// tagPatterns caches one compiled pattern per tag name.
var tagPatterns sync.Map

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(tag)
	re := regexp.MustCompile(`(?s)<` + q + `><!\[CDATA\[(.*?)\]\]></` + q + `>|<` + q + `>(.*?)</` + q + `>`)
	actual, _ := tagPatterns.LoadOrStore(tag, re)
	return actual.(*regexp.Regexp)
}

// TagValue returns the trimmed value of the first <tag> element in text,
// unwrapping CDATA. A missing tag yields "".
func TagValue(text, tag string) string {
	if tag == "" {
		return ""
	}
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[2])
}

// ExtractTags reads each tag from text. Every requested tag is present in
// the result, empty when absent from text.
func ExtractTags(text string, tags ...string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[tag] = TagValue(text, tag)
	}
	return out
}

package camt

import "strings"

// span returns the inner text of the first <tag>...</tag> occurrence
// inside body. Lookups compose: callers pass a previously extracted span
// to scope nested reads to that element only.
func span(body, tag string) (string, bool) {
	open := "<" + tag
	closing := "</" + tag + ">"

	start := 0
	for {
		idx := strings.Index(body[start:], open)
		if idx < 0 {
			return "", false
		}
		idx += start
		after := idx + len(open)
		if after >= len(body) {
			return "", false
		}
		// Reject partial tag-name matches such as <NtryRef> for tag Ntry.
		switch body[after] {
		case '>', ' ', '\t', '\r', '\n', '/':
		default:
			start = after
			continue
		}

		gt := strings.IndexByte(body[idx:], '>')
		if gt < 0 {
			return "", false
		}
		contentStart := idx + gt + 1
		if body[idx+gt-1] == '/' { // self-closing
			return "", true
		}

		end := strings.Index(body[contentStart:], closing)
		if end < 0 {
			return "", false
		}
		return body[contentStart : contentStart+end], true
	}
}

// spans returns the inner text of every <tag>...</tag> occurrence inside
// body, in document order
func spans(body, tag string) []string {
	var out []string
	closing := "</" + tag + ">"

	rest := body
	for {
		inner, ok := span(rest, tag)
		if !ok {
			return out
		}
		out = append(out, inner)

		idx := strings.Index(rest, inner + closing)
		if idx < 0 {
			// Self-closing or empty element; skip past the open tag.
			idx = strings.Index(rest, "<"+tag)
			if idx < 0 {
				return out
			}
			rest = rest[idx+len(tag)+1:]
			continue
		}
		rest = rest[idx+len(inner)+len(closing):]
	}
}

// value returns the trimmed, entity-decoded inner text of the first
// <tag> inside body, or the empty string if absent
func value(body, tag string) string {
	inner, ok := span(body, tag)
	if !ok {
		return ""
	}
	return strings.TrimSpace(unescape(inner))
}

// attribute returns the value of an attribute on the first <tag> open tag
// inside body, or the empty string if absent
func attribute(body, tag, attr string) string {
	idx := strings.Index(body, "<"+tag)
	if idx < 0 {
		return ""
	}
	gt := strings.IndexByte(body[idx:], '>')
	if gt < 0 {
		return ""
	}
	openTag := body[idx : idx+gt]

	marker := attr + "=\""
	attrIdx := strings.Index(openTag, marker)
	if attrIdx < 0 {
		return ""
	}
	valueStart := attrIdx + len(marker)
	valueEnd := strings.IndexByte(openTag[valueStart:], '"')
	if valueEnd < 0 {
		return ""
	}
	return openTag[valueStart : valueStart+valueEnd]
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&apos;", "'",
)

// unescape decodes the five predefined XML entities
func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return entityReplacer.Replace(s)
}

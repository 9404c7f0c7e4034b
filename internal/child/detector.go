package child

import (
	"regexp"
	"strings"
)

// Rolling buffer bounds for sentinel detection. The buffer holds the
// tail of the child's output; on overflow it is trimmed to the trailing
// half so a sentinel split across chunks still matches.
const (
	detectBufferCap  = 4000
	detectBufferKeep = 2000
)

// rateLimitRe matches the child's rate-limit banner after ANSI
// stripping. The capture group holds the reset phrase.
var rateLimitRe = regexp.MustCompile(`(?im)(?:Limit reached|You've hit your limit)\s*[·•]\s*resets\s+(.+?)(?:\s*$|\n)`)

// sessionIDRe captures the session id the child prints at startup,
// e.g. "session id: 6ba7b810-..." or "Resuming session: ...".
var sessionIDRe = regexp.MustCompile(`(?i)(?:session(?:[_\s]?id)?[:\s]+|Resuming session[:\s]+)([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)

// Terminal escape sequences removed before matching. CSI covers cursor
// and color control; OSC covers window-title writes. An unterminated
// OSC at the buffer edge is stripped to the end.
var (
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)?`)
)

// detector accumulates child output and watches for the rate-limit
// sentinel. Not safe for concurrent use; the read loop owns it.
type detector struct {
	buf       []byte
	sessionID string
}

// Feed appends a chunk and reports whether the rate-limit sentinel is
// now present. hint is the captured reset phrase. A session id seen in
// the stream is retained on the side.
func (d *detector) Feed(chunk []byte) (hit bool, hint string) {
	d.buf = append(d.buf, chunk...)
	if len(d.buf) > detectBufferCap {
		tail := d.buf[len(d.buf)-detectBufferKeep:]
		d.buf = append(d.buf[:0:0], tail...)
	}

	plain := stripANSI(string(d.buf))

	if d.sessionID == "" {
		if m := sessionIDRe.FindStringSubmatch(plain); m != nil {
			d.sessionID = strings.ToLower(m[1])
		}
	}

	if m := rateLimitRe.FindStringSubmatch(plain); m != nil {
		return true, strings.TrimSpace(m[1])
	}
	return false, ""
}

// SessionID returns the captured session id, if any was seen.
func (d *detector) SessionID() string {
	return d.sessionID
}

// stripANSI removes CSI and OSC escape sequences.
func stripANSI(s string) string {
	s = csiRe.ReplaceAllString(s, "")
	return oscRe.ReplaceAllString(s, "")
}

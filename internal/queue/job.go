package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"biosummit.app/concierge/internal/model"
)

// Job is an admitted inbound message, immutable once enqueued.
type Job struct {
	JobKey         string
	ConversationID string
	MessageID      string
	Sender         string
	Content        model.MessageContent
	EnqueuedAt     time.Time
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// JobKey derives the deterministic admission key for a message. The
// transport message ID is sanitized to the character set the queue accepts;
// if sanitization collapses it to nothing, a hash of the content stands in
// so the key is still stable across redeliveries of the same event.
func JobKey(messageID string, content model.MessageContent) string {
	key := sanitizeKey(messageID)
	if key == "" {
		sum := sha256.Sum256([]byte(string(content.Kind) + "\x00" + content.Text + "\x00" + content.AudioURL))
		key = hex.EncodeToString(sum[:16])
	}
	return key
}

func sanitizeKey(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	key := nonKeyChars.ReplaceAllString(lower, "-")
	return strings.Trim(key, "-")
}

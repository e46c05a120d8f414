package wire

import (
	"fmt"
	"strings"
)

// Outbound application destinations.
const (
	DestFindPartner  = "app.chat.find-partner"
	DestSendMessage  = "app.chat.message"
	DestCreateInvite = "app.invite.create"
	DestJoinInvite   = "app.invite.join"
)

const sessionTopicPrefix = "topic.session."

// MatchQueue is the per-user queue carrying match notifications.
func MatchQueue(userID string) string {
	return fmt.Sprintf("queue.match.%s", userID)
}

// ErrorQueue is the per-user queue carrying server-reported errors.
func ErrorQueue(userID string) string {
	return fmt.Sprintf("queue.errors.%s", userID)
}

// InviteQueue is the per-user queue carrying issued invite codes.
func InviteQueue(userID string) string {
	return fmt.Sprintf("queue.invite.%s", userID)
}

// SessionTopic is the dynamic topic for one paired session.
func SessionTopic(sessionID string) string {
	return sessionTopicPrefix + sessionID
}

// ParseSessionTopic returns the session id a topic refers to, and whether
// the destination is a session topic at all.
func ParseSessionTopic(destination string) (string, bool) {
	if !strings.HasPrefix(destination, sessionTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(destination, sessionTopicPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

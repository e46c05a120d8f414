package main

import (
	"fmt"
	"sync"

	"github.com/openclaw/chat-session-go/internal/client"
)

// renderer prints new log entries and state changes as they happen.
// Snapshots carry the full log, so it tracks how much was already
// printed.
type renderer struct {
	mu        sync.Mutex
	lastState client.State
	printed   int
	lastErr   string
}

func newRenderer() *renderer {
	return &renderer{lastState: client.StateDisconnected}
}

func (r *renderer) render(snap client.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.State != r.lastState {
		r.lastState = snap.State
		switch snap.State {
		case client.StateInChat:
			fmt.Printf("-- in chat with %s --\n", snap.Partner)
		case client.StateWaitingWithInvite:
			fmt.Printf("-- invite code: %s (expires in %ds) --\n", snap.InviteCode, snap.InviteExpiresIn)
		default:
			fmt.Printf("-- %s --\n", snap.State)
		}
	}

	if len(snap.Messages) < r.printed {
		r.printed = 0
	}
	for _, e := range snap.Messages[r.printed:] {
		if e.Kind == client.KindTyping {
			continue
		}
		if e.Sender != "" {
			fmt.Printf("[%s] %s\n", e.Sender, e.Content)
		} else {
			fmt.Printf("* %s\n", e.Content)
		}
	}
	r.printed = len(snap.Messages)

	if snap.Err != "" && snap.Err != r.lastErr {
		fmt.Printf("! %s\n", snap.Err)
	}
	r.lastErr = snap.Err
}

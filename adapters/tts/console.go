package tts

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// ConsoleSpeaker "speaks" by printing replies to a writer. Playback finishes
// as soon as the text is written.
type ConsoleSpeaker struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	muted  bool
}

var _ repositories.Speaker = (*ConsoleSpeaker)(nil)

// NewConsoleSpeaker creates a speaker writing each reply on its own line
func NewConsoleSpeaker(w io.Writer, prefix string) *ConsoleSpeaker {
	return &ConsoleSpeaker{w: w, prefix: prefix}
}

// Mute suppresses output until Unmute is called
func (c *ConsoleSpeaker) Mute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = true
}

// Unmute resumes output
func (c *ConsoleSpeaker) Unmute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = false
}

func (c *ConsoleSpeaker) Speak(ctx context.Context, text string, onEnd func()) error {
	c.mu.Lock()
	muted := c.muted
	var err error
	if !muted {
		_, err = fmt.Fprintf(c.w, "%s%s\n", c.prefix, text)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	if onEnd != nil {
		onEnd()
	}
	return nil
}

// Cancel is a no-op: output is never in progress once Speak returns
func (c *ConsoleSpeaker) Cancel() {}

package stt

import (
	"context"
	"sync"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

// Feed is a TranscriptSource driven by pushed updates. Recognition happens
// elsewhere (in the browser, or in a StreamingSource) and the results are
// published here.
type Feed struct {
	// deliverMu keeps subscribers seeing updates in publish order
	deliverMu sync.Mutex
	mu        sync.Mutex
	current   entities.TranscriptUpdate
	subs      map[int]func(entities.TranscriptUpdate)
	nextID    int
}

var _ repositories.TranscriptSource = (*Feed)(nil)

// NewFeed creates an idle feed with an empty transcript
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(entities.TranscriptUpdate))}
}

// Current returns the last published update
func (f *Feed) Current() entities.TranscriptUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish records u and delivers it to every subscriber
func (f *Feed) Publish(u entities.TranscriptUpdate) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.Lock()
	f.current = u
	subs := make([]func(entities.TranscriptUpdate), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

// Subscribe implements repositories.TranscriptSource
func (f *Feed) Subscribe(fn func(entities.TranscriptUpdate)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// StartListening clears the transcript and raises the listening flag
func (f *Feed) StartListening(ctx context.Context) error {
	f.Publish(entities.TranscriptUpdate{Listening: true})
	return nil
}

// StopListening lowers the listening flag, keeping the transcript heard so far
func (f *Feed) StopListening(ctx context.Context) error {
	f.Publish(entities.TranscriptUpdate{Transcript: f.Current().Transcript})
	return nil
}

package repositories

import "context"

// Speaker is a text-to-speech capability: it plays text and reports when
// playback ends.
type Speaker interface {
	// Speak starts playback of text. onEnd is called once playback finishes.
	Speak(ctx context.Context, text string, onEnd func()) error
	// Cancel stops any playback in progress. Safe to call when idle.
	Cancel()
}

// TextToSpeech synthesizes audio for text as a stream of chunks
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}

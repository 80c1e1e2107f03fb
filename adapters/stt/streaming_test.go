package stt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

type recorder struct {
	mu      sync.Mutex
	updates []entities.TranscriptUpdate
}

func (r *recorder) record(u entities.TranscriptUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []entities.TranscriptUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.TranscriptUpdate(nil), r.updates...)
}

type failingRecognizer struct {
	initErr error
	endErr  error
}

func (f *failingRecognizer) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig, onInterim func(string)) (repositories.SpeechToTextStreaming, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f, nil
}

func (f *failingRecognizer) Stream(data []byte) error { return nil }

func (f *failingRecognizer) End() (string, error) { return "", f.endErr }

func TestStreamingSource_Recognizes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := NewStreamingSource(NewMockSpeechToText(logger), repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}, logger)
	rec := &recorder{}
	src.Subscribe(rec.record)
	ctx := context.Background()

	require.NoError(t, src.StartListening(ctx))
	assert.True(t, src.Listening())
	require.NoError(t, src.Write([]byte{1, 2}))
	require.NoError(t, src.Write([]byte{3, 4}))
	require.NoError(t, src.StopListening(ctx))
	assert.False(t, src.Listening())

	assert.Equal(t, []entities.TranscriptUpdate{
		{Listening: true},
		{Transcript: "What", Listening: true},
		{Transcript: "What is", Listening: true},
		{Transcript: "What is the capital of France?"},
	}, rec.all())
}

func TestStreamingSource_NotListening(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := NewStreamingSource(NewMockSpeechToText(logger), repositories.AudioConfig{}, logger)

	assert.ErrorIs(t, src.Write([]byte{1}), ErrNotListening)
	assert.ErrorIs(t, src.StopListening(context.Background()), ErrNotListening)
}

func TestStreamingSource_AlreadyListening(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := NewStreamingSource(NewMockSpeechToText(logger), repositories.AudioConfig{}, logger)

	require.NoError(t, src.StartListening(context.Background()))
	assert.ErrorIs(t, src.StartListening(context.Background()), ErrAlreadyListening)
}

func TestStreamingSource_InitFailure(t *testing.T) {
	src := NewStreamingSource(&failingRecognizer{initErr: errors.New("no credentials")}, repositories.AudioConfig{}, zaptest.NewLogger(t))
	rec := &recorder{}
	src.Subscribe(rec.record)

	err := src.StartListening(context.Background())

	assert.ErrorContains(t, err, "no credentials")
	assert.False(t, src.Listening())
	assert.Empty(t, rec.all())
}

func TestStreamingSource_EndFailurePublishesEmptyTranscript(t *testing.T) {
	src := NewStreamingSource(&failingRecognizer{endErr: ErrNoSpeech}, repositories.AudioConfig{}, zaptest.NewLogger(t))
	rec := &recorder{}
	src.Subscribe(rec.record)
	ctx := context.Background()

	require.NoError(t, src.StartListening(ctx))
	err := src.StopListening(ctx)

	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Equal(t, []entities.TranscriptUpdate{{Listening: true}, {}}, rec.all())
}

func TestStreamingSource_Configure(t *testing.T) {
	src := NewStreamingSource(nil, repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}, zaptest.NewLogger(t))

	src.Configure(repositories.AudioConfig{Encoding: "WEBM_OPUS"})

	assert.Equal(t, repositories.AudioConfig{SampleRate: 16000, Encoding: "WEBM_OPUS", Language: "en-US"}, src.config)
}

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// ErrNoSpeech is returned when a stream ends without any recognized words
var ErrNoSpeech = errors.New("no speech detected in audio")

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the underlying connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig, onInterim func(string)) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: onInterim != nil,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream:    stream,
		ctx:       ctx,
		cancel:    cancel,
		onInterim: onInterim,
		done:      make(chan recognitionResult, 1),
		logger:    g.logger,
	}
	go s.receiveResults()
	return s, nil
}

type recognitionResult struct {
	transcript string
	err        error
}

type GoogleSpeechToTextStream struct {
	stream    speechpb.Speech_StreamingRecognizeClient
	ctx       context.Context
	cancel    context.CancelFunc
	onInterim func(string)
	done      chan recognitionResult
	logger    *zap.Logger

	mu            sync.Mutex
	audioReceived bool
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	g.audioReceived = true
	g.mu.Unlock()

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End closes the audio stream and waits for the final transcript
func (g *GoogleSpeechToTextStream) End() (string, error) {
	defer g.cancel()

	g.mu.Lock()
	audioReceived := g.audioReceived
	g.mu.Unlock()
	if !audioReceived {
		return "", fmt.Errorf("no audio data received")
	}

	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case res := <-g.done:
		if res.err != nil {
			return "", res.err
		}
		if res.transcript == "" {
			return "", ErrNoSpeech
		}
		return res.transcript, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	var final string
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.done <- recognitionResult{transcript: final}
			return
		}
		if err != nil {
			g.done <- recognitionResult{err: fmt.Errorf("failed to receive response: %w", err)}
			return
		}

		var interim string
		final, interim = assembleTranscript(final, resp.GetResults())
		if g.onInterim != nil && interim != "" {
			g.onInterim(interim)
		}
	}
}

// assembleTranscript folds one response into the finalized text. It returns
// the new finalized text and, when the response carried unfinished results,
// the full transcript heard so far.
func assembleTranscript(final string, results []*speechpb.StreamingRecognitionResult) (string, string) {
	var pending []string
	for _, result := range results {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript())
		if text == "" {
			continue
		}
		if result.GetIsFinal() {
			final = joinWords(final, text)
		} else {
			pending = append(pending, text)
		}
	}

	if len(pending) == 0 {
		return final, ""
	}
	return final, joinWords(final, strings.Join(pending, " "))
}

func joinWords(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}

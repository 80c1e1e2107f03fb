package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters"
	"github.com/satriahrh/voicechat/adapters/llm"
	"github.com/satriahrh/voicechat/adapters/mongo"
	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/config"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/usecase"
)

// services holds the providers selected by configuration
type services struct {
	chat        repositories.ChatCompleter
	recognizer  repositories.SpeechToText
	voice       repositories.TextToSpeech
	audioFormat string
	journal     repositories.TurnJournal
	closers     []func(context.Context) error
}

func (s *services) close(ctx context.Context, logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
}

func (s *services) conversations(cfg *config.Config, logger *zap.Logger) *usecase.ConversationService {
	params := usecase.ChatParams{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Model:        cfg.Chat.Model,
		Temperature:  0.7,
		TopP:         1,
	}
	if cfg.Chat.Temperature != nil {
		params.Temperature = *cfg.Chat.Temperature
	}
	if cfg.Chat.TopP != nil {
		params.TopP = *cfg.Chat.TopP
	}
	return usecase.NewConversationService(s.chat, s.journal, params, logger)
}

func buildServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	s := &services{}

	chat, err := newChat(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.chat = chat

	switch cfg.Speech.Provider {
	case config.SpeechProviderGoogle:
		recognizer, err := stt.NewGoogleSpeechToText(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}
		s.recognizer = recognizer
		s.closers = append(s.closers, func(context.Context) error { return recognizer.Close() })
	case config.SpeechProviderMock:
		s.recognizer = stt.NewMockSpeechToText(logger)
	}

	if cfg.Voice.Provider == config.VoiceProviderElevenLabs {
		voice, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.Voice.APIKey,
			APIBaseURL:   cfg.Voice.APIBaseURL,
			VoiceID:      cfg.Voice.VoiceID,
			ModelID:      cfg.Voice.ModelID,
			OutputFormat: cfg.Voice.OutputFormat,
			Stability:    cfg.Voice.Stability,
			Clarity:      cfg.Voice.Clarity,
			Timeout:      cfg.Voice.Timeout,
		}, logger)
		if err != nil {
			s.close(ctx, logger)
			return nil, fmt.Errorf("voice: %w", err)
		}
		s.voice = voice
		s.audioFormat = voice.OutputFormat()
	}

	switch cfg.Journal.Backend {
	case config.JournalBackendMemory:
		s.journal = adapters.NewMemoryTurnJournal()
	case config.JournalBackendMongo:
		client, err := mongo.NewClient(ctx, mongo.Config{
			URI:      cfg.Journal.MongoURI,
			Database: cfg.Journal.Database,
		}, logger)
		if err != nil {
			s.close(ctx, logger)
			return nil, fmt.Errorf("journal: %w", err)
		}
		s.closers = append(s.closers, client.Close)

		repo := mongo.NewTurnJournalRepository(client.Database, cfg.Journal.Retention, logger)
		indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := repo.EnsureIndexes(indexCtx); err != nil {
			s.close(ctx, logger)
			return nil, fmt.Errorf("journal indexes: %w", err)
		}
		s.journal = repo
	}

	logger.Info("Services configured",
		zap.String("chat", cfg.Chat.Provider),
		zap.String("speech", cfg.Speech.Provider),
		zap.String("voice", cfg.Voice.Provider),
		zap.String("journal", cfg.Journal.Backend))

	return s, nil
}

func newChat(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ChatCompleter, error) {
	switch cfg.Chat.Provider {
	case config.ChatProviderGemini:
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		}, logger)
	case config.ChatProviderMock:
		return llm.NewMockLLM(), nil
	default:
		return llm.NewChatCompletionsClient(llm.ChatCompletionsConfig{
			Endpoint: cfg.Chat.Endpoint,
			Token:    cfg.Chat.Token,
			Model:    cfg.Chat.Model,
			Timeout:  cfg.Chat.Timeout,
		}, logger)
	}
}

func audioConfig(cfg *config.Config) repositories.AudioConfig {
	return repositories.AudioConfig{
		SampleRate: cfg.Speech.SampleRate,
		Encoding:   cfg.Speech.Encoding,
		Language:   cfg.Speech.Language,
	}
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// TranscribeService fills an audio item's body with its transcript and
// hands it to content processing.
type TranscribeService struct {
	items       domain.RawItemRepository
	transcriber domain.Transcriber
	queue       domain.Queue
}

// NewTranscribeService wires the service.
func NewTranscribeService(items domain.RawItemRepository, transcriber domain.Transcriber,
	queue domain.Queue) *TranscribeService {
	return &TranscribeService{items: items, transcriber: transcriber, queue: queue}
}

// Execute runs one transcribe_audio job.
func (s *TranscribeService) Execute(ctx context.Context, rawItemID string) error {
	it, err := s.items.Get(ctx, rawItemID)
	if err != nil {
		return fmt.Errorf("op=transcribe.Execute: %w", err)
	}
	if it.Body != "" {
		// already transcribed, just make sure processing is scheduled
		_, err := s.queue.Enqueue(ctx, domain.JobContentProcess, map[string]any{"raw_ref": rawItemID})
		if err != nil {
			return fmt.Errorf("op=transcribe.Execute item=%s: %w", rawItemID, err)
		}
		return nil
	}
	audioURL, _ := it.Metadata["audio_url"].(string)
	if audioURL == "" {
		return fmt.Errorf("op=transcribe.Execute item=%s: %w: no audio_url in metadata",
			rawItemID, domain.ErrInvalidArgument)
	}

	transcript, err := s.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("op=transcribe.Execute item=%s: %w", rawItemID, err)
	}
	if err := s.items.SetBody(ctx, rawItemID, transcript); err != nil {
		return fmt.Errorf("op=transcribe.Execute item=%s: %w", rawItemID, err)
	}
	if _, err := s.queue.Enqueue(ctx, domain.JobContentProcess, map[string]any{"raw_ref": rawItemID}); err != nil {
		return fmt.Errorf("op=transcribe.Execute item=%s: %w", rawItemID, err)
	}
	slog.Info("audio transcribed",
		slog.String("raw_item_id", rawItemID),
		slog.Int("transcript_chars", len(transcript)),
	)
	return nil
}

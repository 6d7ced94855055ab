package tracking

import (
	"context"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// Processor applies open and click events to every message sharing a
// correlation hash.
type Processor struct {
	store *message.Store
	cfg   config.TrackingConfig
}

// NewProcessor builds an engagement processor.
func NewProcessor(store *message.Store, cfg config.TrackingConfig) *Processor {
	return &Processor{store: store, cfg: cfg}
}

// RecordOpen counts one open for the hash. Unknown hashes are a
// normal outcome (forwarded mail, purged rows) and are ignored.
func (p *Processor) RecordOpen(ctx context.Context, hash string) error {
	msgs, err := p.store.MessagesByTrackingHash(ctx, hash)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := p.store.IncrementOpens(ctx, m.ID); err != nil {
			return err
		}
		if err := p.store.MarkOpenedOnce(ctx, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecordClick counts one click on a destination. Mail clients often
// block images, so with pixel tracking enabled a first click also
// counts as the first open.
func (p *Processor) RecordClick(ctx context.Context, hash, destination string) error {
	msgs, err := p.store.MessagesByTrackingHash(ctx, hash)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		logger.Debug("click for unknown hash", "hash", hash)
		return nil
	}
	for _, m := range msgs {
		if err := p.store.RecordClick(ctx, m.ID, destination); err != nil {
			return err
		}
		if err := p.store.MarkClickedOnce(ctx, m.ID); err != nil {
			return err
		}
		if p.cfg.InjectPixel {
			// The open counter stays pixel-driven; a click only
			// backfills the timestamp.
			if err := p.store.MarkOpenedOnce(ctx, m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

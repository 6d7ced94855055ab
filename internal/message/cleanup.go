package message

import (
	"context"
	"time"

	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// Cleaner applies the retention policy: soft-deleted rows get purged
// for real, and stored email bodies are stripped from old sent rows.
type Cleaner struct {
	store      *Store
	purgeAfter time.Duration
	stripAfter time.Duration
}

// NewCleaner builds a retention cleaner.
func NewCleaner(store *Store, purgeAfter, stripAfter time.Duration) *Cleaner {
	return &Cleaner{store: store, purgeAfter: purgeAfter, stripAfter: stripAfter}
}

// Run executes one retention pass.
func (c *Cleaner) Run(ctx context.Context) error {
	purged, err := c.store.PurgeSoftDeleted(ctx, c.purgeAfter)
	if err != nil {
		return err
	}
	stripped, err := c.store.PurgeSentContent(ctx, c.stripAfter)
	if err != nil {
		return err
	}
	if purged > 0 || stripped > 0 {
		logger.Info("retention pass complete", "purged", purged, "content_stripped", stripped)
	}
	return nil
}

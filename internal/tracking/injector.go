package tracking

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/mail"
	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
	"github.com/ignite/mail-manager/internal/transport"
)

// HashHeader carries the correlation hash on the outgoing message.
const HashHeader = "X-Mailer-Hash"

// ContentStore persists pre-rewrite email bodies outside the database.
type ContentStore interface {
	Store(ctx context.Context, hash, html string) (path string, err error)
}

// Injector prepares an outgoing email for tracking: correlation hash,
// open pixel, signed click links, and the message-side snapshot.
type Injector struct {
	store   *message.Store
	signer  *Signer
	content ContentStore
	cfg     config.TrackingConfig
}

// NewInjector builds an injector. content may be nil when bodies are
// logged inline or not at all.
func NewInjector(store *message.Store, signer *Signer, content ContentStore, cfg config.TrackingConfig) *Injector {
	return &Injector{store: store, signer: signer, content: content, cfg: cfg}
}

// newHash generates a collision-checked correlation hash.
func (i *Injector) newHash(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		hash := strings.ReplaceAll(uuid.NewString(), "-", "")
		exists, err := i.store.TrackingHashExists(ctx, hash)
		if err != nil {
			return "", err
		}
		if !exists {
			return hash, nil
		}
	}
	return "", fmt.Errorf("could not generate unique tracking hash")
}

// Inject rewrites the email for tracking and stamps the snapshot onto
// every owner message. The returned hash identifies the physical email.
func (i *Injector) Inject(ctx context.Context, email *mail.Email, msgs []*message.Message) (string, error) {
	if len(msgs) == 0 || email.Body == nil {
		return "", nil
	}
	hash, err := i.newHash(ctx)
	if err != nil {
		return "", err
	}
	email.SetHeader(HashHeader, hash)

	body, result := mail.TransformHTML(email.Body, func(html string) string {
		return i.rewriteHTML(html, hash)
	})
	email.Body = body

	ids := make([]int64, len(msgs))
	for n, m := range msgs {
		ids[n] = m.ID
	}

	snap := message.TrackingSnapshot{Hash: hash, Subject: email.Subject}
	snap.SenderName, snap.SenderEmail = email.From.Name, email.From.Email
	if len(email.To) > 0 {
		snap.RecipientName, snap.RecipientEmail = email.To[0].Name, email.To[0].Email
	}
	if err := i.store.StampTracking(ctx, ids, snap); err != nil {
		return hash, err
	}

	if result.Mutated && i.cfg.LogContent {
		i.logContent(ctx, ids, hash, result.OriginalHTML)
	}
	return hash, nil
}

// RecordTransportID stores the provider id on every owner message.
func (i *Injector) RecordTransportID(ctx context.Context, hash string, res *transport.Result) error {
	id := res.TrackingMessageID()
	if id == "" {
		return nil
	}
	return i.store.SetTrackingMessageID(ctx, hash, id)
}

var (
	bodyTagRe = regexp.MustCompile(`(?i)<body[^>]*>`)
	hrefRe    = regexp.MustCompile(`(?i)href\s*=\s*"([^"]*)"`)
)

// rewriteHTML adds the open pixel and routes links through the signed
// redirect.
func (i *Injector) rewriteHTML(html, hash string) string {
	if i.cfg.TrackLinks {
		html = hrefRe.ReplaceAllStringFunc(html, func(match string) string {
			target := hrefRe.FindStringSubmatch(match)[1]
			rewritten, ok := i.rewriteLink(target, hash)
			if !ok {
				return match
			}
			return `href="` + rewritten + `"`
		})
	}
	if i.cfg.InjectPixel {
		pixel := fmt.Sprintf(`<img src="%s/t/%s" width="1" height="1" alt="" />`,
			strings.TrimRight(i.cfg.BaseURL, "/"), hash)
		if loc := bodyTagRe.FindStringIndex(html); loc != nil {
			html = html[:loc[1]] + pixel + html[loc[1]:]
		} else {
			html += pixel
		}
	}
	return html
}

// rewriteLink maps one href value to its redirect URL. Anchors and
// non-web schemes stay untouched.
func (i *Injector) rewriteLink(target, hash string) (string, bool) {
	// HTML attributes arrive entity-encoded.
	target = strings.ReplaceAll(target, "&amp;", "&")
	target = strings.TrimSpace(target)
	if target == "" {
		target = i.cfg.FallbackURL
		if target == "" {
			return "", false
		}
	}
	if strings.HasPrefix(target, "#") ||
		strings.HasPrefix(target, "mailto:") ||
		strings.HasPrefix(target, "tel:") {
		return "", false
	}
	return i.signer.ClickURL(i.cfg.BaseURL, target, hash), true
}

// logContent stores the pre-rewrite body on every owner message,
// inline (truncated to the configured cap) or through the content
// store, depending on the strategy.
func (i *Injector) logContent(ctx context.Context, ids []int64, hash, html string) {
	if i.cfg.LogContentStrategy == "s3" && i.content != nil {
		path, err := i.content.Store(ctx, hash, html)
		if err != nil {
			logger.Error("storing email content failed", "hash", hash, "error", err.Error())
			return
		}
		for _, id := range ids {
			if err := i.store.StoreContentPath(ctx, id, path); err != nil {
				logger.Error("recording content path failed", "hash", hash, "error", err.Error())
			}
		}
		return
	}
	if max := i.cfg.ContentMaxSize; max > 0 && len(html) > max {
		html = html[:max]
	}
	for _, id := range ids {
		if err := i.store.StoreContentInline(ctx, id, html); err != nil {
			logger.Error("storing inline content failed", "hash", hash, "error", err.Error())
		}
	}
}

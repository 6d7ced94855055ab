package tracking

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-manager/internal/config"
	"github.com/ignite/mail-manager/internal/pkg/httpretry"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// 1x1 transparent GIF, 43 bytes
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// SelfTestIDPrefix marks synthetic notifications that must bypass the
// queue so the self test can assert on the result immediately.
const SelfTestIDPrefix = "self-test-"

// Handler exposes the public tracking endpoints.
type Handler struct {
	signer     *Signer
	publisher  *Publisher
	processor  *Processor
	correlator *Correlator
	cfg        config.TrackingConfig
	httpClient httpretry.Doer
}

// NewHandler builds the HTTP handler. publisher may be nil, in which
// case all events are applied inline.
func NewHandler(signer *Signer, publisher *Publisher, processor *Processor, correlator *Correlator, cfg config.TrackingConfig) *Handler {
	return &Handler{
		signer:     signer,
		publisher:  publisher,
		processor:  processor,
		correlator: correlator,
		cfg:        cfg,
		httpClient: httpretry.New(nil, 3),
	}
}

// Routes mounts the tracking endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/t/{hash}", h.HandleOpen)
	r.Get("/n", h.HandleClick)
	r.Post("/sns", h.HandleSNS)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen serves the pixel and counts the open. The pixel always
// comes back, whatever happens on our side.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if hash != "" {
		h.submit(r, Event{Kind: EventOpen, Hash: hash})
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// HandleClick verifies the signature, counts the click, and redirects
// to the destination.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	destination := q.Get("l")
	hash := q.Get("h")
	sig := q.Get("s")

	if destination == "" {
		destination = h.cfg.FallbackURL
	}
	if !h.signer.Verify(q.Get("l"), hash, sig) {
		logger.Warn("rejecting tampered click link", "hash", hash)
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	if destination == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.submit(r, Event{Kind: EventClick, Hash: hash, Destination: destination})
	http.Redirect(w, r, destination, http.StatusTemporaryRedirect)
}

// snsEnvelope is the outer SNS POST body.
type snsEnvelope struct {
	Type         string `json:"Type"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// HandleSNS accepts provider webhooks: the one-time subscription
// handshake plus ordinary notifications. Ingestion problems are
// swallowed with a 200 so the provider never enters a retry storm;
// only structurally invalid payloads get an error status.
func (h *Handler) HandleSNS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	if h.cfg.SNSTopicARN != "" && env.TopicArn != "" && env.TopicArn != h.cfg.SNSTopicARN {
		logger.Warn("rejecting SNS payload from unexpected topic", "topic", env.TopicArn)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		h.confirmSubscription(r, &env)
	case "Notification":
		h.routeNotification(r, []byte(env.Message))
	default:
		// Raw (non-enveloped) test payloads land here.
		h.routeNotification(r, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) confirmSubscription(r *http.Request, env *snsEnvelope) {
	if env.SubscribeURL == "" || !strings.HasPrefix(env.SubscribeURL, "https://") {
		logger.Warn("ignoring subscription confirmation without usable URL")
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, env.SubscribeURL, nil)
	if err != nil {
		logger.Error("building subscription confirmation request failed", "error", err.Error())
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		logger.Error("confirming SNS subscription failed", "error", err.Error())
		return
	}
	resp.Body.Close()
	logger.Info("SNS subscription confirmed", "topic", env.TopicArn, "status", resp.StatusCode)
}

// routeNotification forwards the nested notification, inline for
// self-test traffic and through the queue otherwise.
func (h *Handler) routeNotification(r *http.Request, payload []byte) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		logger.Warn("ignoring unparseable notification", "error", err.Error())
		return
	}
	if strings.HasPrefix(n.Mail.MessageID, SelfTestIDPrefix) {
		if err := h.correlator.Ingest(r.Context(), payload); err != nil {
			logger.Error("self-test ingestion failed", "error", err.Error())
		}
		return
	}
	h.submit(r, Event{Kind: EventWebhook, Payload: payload})
}

// submit queues the event, or applies it inline when no queue is
// configured.
func (h *Handler) submit(r *http.Request, evt Event) {
	if h.publisher != nil {
		h.publisher.Publish(r.Context(), evt)
		return
	}
	var err error
	switch evt.Kind {
	case EventOpen:
		err = h.processor.RecordOpen(r.Context(), evt.Hash)
	case EventClick:
		err = h.processor.RecordClick(r.Context(), evt.Hash, evt.Destination)
	case EventWebhook:
		err = h.correlator.Ingest(r.Context(), evt.Payload)
	}
	if err != nil {
		logger.Error("applying tracking event inline failed",
			"kind", string(evt.Kind), "error", err.Error())
	}
}

// HandleHealth answers load balancer checks.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

package staticgen

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/hanko-blog/internal/httpx"
)

const maxWebhookBody = 1 << 20

// Prismic webhook types.
const (
	WebhookAPIUpdate   = "api-update"
	WebhookTestTrigger = "test-trigger"
)

// Webhook is the payload Prismic posts when content changes.
type Webhook struct {
	Type      string   `json:"type"`
	Secret    string   `json:"secret"`
	MasterRef string   `json:"masterRef"`
	Domain    string   `json:"domain"`
	Documents []string `json:"documents"`
}

// Invalidator drops cached content.
type Invalidator interface {
	InvalidateAll()
}

// MasterRefUser is an Invalidator that can take the master ref announced by the webhook
// instead of dropping its cache.
type MasterRefUser interface {
	Invalidator
	UseMasterRef(ref string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func()

// InvalidateAll calls f.
func (f InvalidatorFunc) InvalidateAll() { f() }

// RevalidateHandler answers the Prismic webhook by invalidating every target, in order, so
// pages are rebuilt on their next request. Content sources go before the page store.
type RevalidateHandler struct {
	secret  string
	targets []Invalidator
	logger  *zap.Logger
}

// NewRevalidateHandler builds the webhook endpoint. An empty secret rejects every call.
func NewRevalidateHandler(secret string, logger *zap.Logger, targets ...Invalidator) *RevalidateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevalidateHandler{secret: secret, targets: targets, logger: logger}
}

func (h *RevalidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteError(ctx, w, httpx.NewError("method_not_allowed", "use POST", http.StatusMethodNotAllowed))
		return
	}

	var hook Webhook
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&hook); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook body must be JSON", http.StatusBadRequest))
		return
	}
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(hook.Secret), []byte(h.secret)) != 1 {
		h.logger.Warn("staticgen: revalidate rejected", zap.String("type", hook.Type))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_secret", "webhook secret mismatch", http.StatusUnauthorized))
		return
	}

	if hook.Type == WebhookTestTrigger {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"revalidated": false, "type": hook.Type})
		return
	}

	for _, t := range h.targets {
		if u, ok := t.(MasterRefUser); ok && hook.MasterRef != "" {
			u.UseMasterRef(hook.MasterRef)
			continue
		}
		t.InvalidateAll()
	}
	h.logger.Info("staticgen: revalidated",
		zap.String("type", hook.Type),
		zap.String("master_ref", hook.MasterRef),
		zap.Int("documents", len(hook.Documents)),
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"revalidated": true, "type": hook.Type})
}

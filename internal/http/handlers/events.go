package handlers

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"licenseserver/internal/db"
)

type eventView struct {
	ID               uint           `json:"id"`
	CreatedAt        string         `json:"created_at"`
	CreatedAtDisplay string         `json:"created_at_display"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	Action           string         `json:"action"`
	KeyHash          string         `json:"key_hash"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// KeyEvents returns the audit trail of one key, newest first. events is
// nil when no database is configured, in which case the trail is
// unavailable and the handler answers 404.
func KeyEvents(events *db.EventLog, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		if events == nil {
			failure(ctx, fasthttp.StatusNotFound, "Audit trail is not enabled")
			return
		}

		hash := strings.ToLower(strings.TrimSpace(pathParam(ctx, "hash")))
		if hash == "" {
			failure(ctx, fasthttp.StatusBadRequest, "Key hash is required")
			return
		}
		limit := 0
		if v := ctx.QueryArgs().Peek("limit"); len(v) > 0 {
			n, err := strconv.Atoi(string(v))
			if err != nil || n <= 0 {
				failure(ctx, fasthttp.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		list, err := events.ListByKey(ctx, hash, limit)
		if err != nil {
			log.Error("failed to load key events", "key_hash", hash, "error", err)
			failure(ctx, fasthttp.StatusInternalServerError, "Failed to load events")
			return
		}

		out := make([]eventView, 0, len(list))
		for _, e := range list {
			out = append(out, eventView{
				ID:               e.ID,
				CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339Nano),
				CreatedAtDisplay: FormatDateTime(e.CreatedAt),
				ExpiresAt:        e.ExpiresAt,
				Action:           e.Action,
				KeyHash:          e.KeyHash,
				Attributes:       e.Attributes,
			})
		}
		jsonResponse(ctx, map[string]any{"events": out})
	}
}

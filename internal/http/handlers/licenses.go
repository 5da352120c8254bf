package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"licenseserver/internal/db"
	"licenseserver/internal/license"
)

type generateRequest struct {
	CustomerName   string   `json:"customer_name" validate:"max=255"`
	DurationDays   looseInt `json:"duration_days" validate:"omitempty,min=1,max=36500"`
	KeyType        string   `json:"key_type" validate:"max=64"`
	MaxActivations looseInt `json:"max_activations" validate:"omitempty,min=1,max=1000000"`
}

type publicGenerateRequest struct {
	CustomerName string `json:"customer_name" validate:"max=255"`
}

type keyRequest struct {
	LicenseKey string `json:"license_key"`
}

type generateResponse struct {
	Success    bool      `json:"success"`
	LicenseKey string    `json:"license_key"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type verifyResponse struct {
	Valid          bool       `json:"valid"`
	Message        string     `json:"message"`
	Expired        bool       `json:"expired,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	KeyType        string     `json:"key_type,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Activations    *int       `json:"activations,omitempty"`
	MaxActivations *int       `json:"max_activations,omitempty"`
}

// Generate issues a key with admin chosen parameters.
func Generate(engine *license.Engine, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}

		var req generateRequest
		if err := decodeBody(ctx, &req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, validationMessage(err))
			return
		}

		rec, err := engine.Generate(ctx, license.GenerateParams{
			CustomerName:   req.CustomerName,
			DurationDays:   int(req.DurationDays),
			KeyType:        req.KeyType,
			MaxActivations: int(req.MaxActivations),
		})
		if err != nil {
			writeGenerateError(ctx, log, err)
			return
		}

		countGenerated(rec.Key, false)
		jsonResponse(ctx, generateResponse{
			Success:    true,
			LicenseKey: rec.Key,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
}

// PublicGenerate issues a trial key to anyone. Callers are expected to be
// rate limited by middleware.RateLimit.
func PublicGenerate(engine *license.Engine, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req publicGenerateRequest
		if err := decodeBody(ctx, &req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, validationMessage(err))
			return
		}

		rec, err := engine.GenerateTrial(ctx, req.CustomerName)
		if err != nil {
			writeGenerateError(ctx, log, err)
			return
		}

		countGenerated(rec.Key, true)
		jsonResponse(ctx, generateResponse{
			Success:    true,
			LicenseKey: rec.Key,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
}

func writeGenerateError(ctx *fasthttp.RequestCtx, log *slog.Logger, err error) {
	if errors.Is(err, license.ErrValidation) {
		failure(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	log.Error("failed to generate license key", "error", err)
	failure(ctx, fasthttp.StatusInternalServerError, "Failed to generate license key")
}

// Verify reports whether a key may be used. Only a missing key (400) and
// an unknown key (404) produce error statuses; every other outcome is a
// 200 with valid=false and the reason in message.
func Verify(engine *license.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req keyRequest
		if err := decodeBody(ctx, &req); err != nil {
			jsonStatus(ctx, fasthttp.StatusBadRequest, verifyResponse{Message: "Invalid JSON body"})
			return
		}

		res := engine.Verify(ctx, req.LicenseKey)
		countVerification(string(res.Reason))

		resp := verifyResponse{
			Valid:   res.Valid,
			Message: res.Message(),
			Expired: res.Expired,
		}
		if res.Valid {
			resp.CustomerName = res.CustomerName
			resp.KeyType = res.KeyType
			resp.ExpiresAt = &res.ExpiresAt
			resp.Activations = &res.Activations
			resp.MaxActivations = &res.MaxActivations
		}

		switch res.Reason {
		case license.ReasonKeyRequired:
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
		case license.ReasonNotFound:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
		jsonResponse(ctx, resp)
	}
}

// Activate consumes one activation of a key.
func Activate(engine *license.Engine, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req keyRequest
		if err := decodeBody(ctx, &req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
			return
		}

		res, err := engine.Activate(ctx, req.LicenseKey)
		switch {
		case err == nil:
			countActivation("success")
			jsonResponse(ctx, map[string]any{
				"success":         true,
				"message":         "License activated successfully",
				"activations":     res.Activations,
				"max_activations": res.MaxActivations,
			})
		case errors.Is(err, license.ErrValidation):
			countActivation("invalid")
			failure(ctx, fasthttp.StatusBadRequest, license.ReasonKeyRequired.Message())
		case errors.Is(err, license.ErrNotFound):
			countActivation("not_found")
			failure(ctx, fasthttp.StatusNotFound, license.ReasonNotFound.Message())
		case errors.Is(err, license.ErrLimitExceeded):
			countActivation("limit_reached")
			failure(ctx, fasthttp.StatusBadRequest, license.ReasonLimitReached.Message())
		case errors.Is(err, license.ErrExpired):
			countActivation("expired")
			failure(ctx, fasthttp.StatusBadRequest, license.ReasonExpired.Message())
		case errors.Is(err, license.ErrDeactivated):
			countActivation("deactivated")
			failure(ctx, fasthttp.StatusBadRequest, license.ReasonDeactivated.Message())
		default:
			countActivation("error")
			log.Error("failed to activate license key", "error", err)
			failure(ctx, fasthttp.StatusInternalServerError, "Failed to activate license key")
		}
	}
}

// ListKeys returns every key with the plaintext masked.
func ListKeys(engine *license.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		jsonResponse(ctx, map[string]any{"keys": engine.ListMasked(ctx)})
	}
}

// GetKey returns one masked key by hash.
func GetKey(engine *license.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustAdmin(ctx); !ok {
			return
		}
		k, err := engine.Get(ctx, pathParam(ctx, "hash"))
		switch {
		case err == nil:
			jsonResponse(ctx, map[string]any{"key": k})
		case errors.Is(err, license.ErrValidation):
			failure(ctx, fasthttp.StatusBadRequest, "Key hash is required")
		default:
			failure(ctx, fasthttp.StatusNotFound, "Key not found")
		}
	}
}

// DeleteKey removes a key by hash. Deleting an unknown hash succeeds.
func DeleteKey(engine *license.Engine, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		admin, ok := MustAdmin(ctx)
		if !ok {
			return
		}
		err := engine.Delete(ctx, pathParam(ctx, "hash"))
		switch {
		case err == nil:
			jsonResponse(ctx, map[string]any{"success": true, "message": "Key deleted successfully"})
		case errors.Is(err, license.ErrValidation):
			failure(ctx, fasthttp.StatusBadRequest, "Key hash is required")
		default:
			log.Error("failed to delete license key", "admin", admin, "error", err)
			failure(ctx, fasthttp.StatusInternalServerError, "Failed to delete key")
		}
	}
}

// ToggleKey flips a key between active and inactive.
func ToggleKey(engine *license.Engine, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		admin, ok := MustAdmin(ctx)
		if !ok {
			return
		}
		status, err := engine.Toggle(ctx, pathParam(ctx, "hash"))
		switch {
		case err == nil:
			jsonResponse(ctx, map[string]any{"success": true, "status": status})
		case errors.Is(err, license.ErrValidation):
			failure(ctx, fasthttp.StatusBadRequest, "Key hash is required")
		case errors.Is(err, license.ErrNotFound):
			failure(ctx, fasthttp.StatusNotFound, "Key not found")
		default:
			var serr *db.StorageError
			if errors.As(err, &serr) {
				log.Error("failed to persist key status", "admin", admin, "op", serr.Op, "error", serr.Err)
			} else {
				log.Error("failed to toggle license key", "admin", admin, "error", err)
			}
			failure(ctx, fasthttp.StatusInternalServerError, "Failed to update key")
		}
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"

	httpctx "licenseserver/internal/http/ctx"
)

var validate = validator.New()

// RequestLogger logs one line per request after it has been served.
func RequestLogger(log *slog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			log.Info("request",
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"status", ctx.Response.StatusCode(),
				"duration", time.Since(start),
				"ip", ctx.RemoteIP().String(),
			)
		}
	}
}

// MustAdmin returns the admin set by AdminAuth, or sends 401 and returns ("", false).
func MustAdmin(ctx *fasthttp.RequestCtx) (string, bool) {
	admin, ok := httpctx.AdminFromCtx(ctx)
	if !ok || admin == "" {
		jsonStatus(ctx, fasthttp.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return "", false
	}
	return admin, true
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func jsonStatus(ctx *fasthttp.RequestCtx, code int, data any) {
	ctx.SetStatusCode(code)
	jsonResponse(ctx, data)
}

// failure writes the {"success": false, "message": ...} body used by the
// mutating endpoints.
func failure(ctx *fasthttp.RequestCtx, code int, msg string) {
	jsonStatus(ctx, code, map[string]any{"success": false, "message": msg})
}

// decodeBody unmarshals a JSON body into dst. An empty body leaves dst at
// its zero value.
func decodeBody(ctx *fasthttp.RequestCtx, dst any) error {
	body := bytes.TrimSpace(ctx.PostBody())
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// validationMessage turns validator errors into one line naming the
// offending JSON fields.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldName(fe.Field())+" is invalid ("+fe.Tag()+")")
	}
	return strings.Join(parts, "; ")
}

func fieldName(goName string) string {
	switch goName {
	case "CustomerName":
		return "customer_name"
	case "DurationDays":
		return "duration_days"
	case "KeyType":
		return "key_type"
	case "MaxActivations":
		return "max_activations"
	case "LicenseKey":
		return "license_key"
	}
	return strings.ToLower(goName)
}

// looseInt accepts a JSON number or a numeric string, as form driven
// clients tend to send both.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*n = looseInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = looseInt(v)
	return nil
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

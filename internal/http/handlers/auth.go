package handlers

import (
	"log/slog"

	"github.com/valyala/fasthttp"

	"licenseserver/internal/http/middleware"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=255"`
}

// Login checks the admin credentials from a JSON body and starts a session.
func Login(creds *middleware.Credentials, sessions *middleware.Sessions, log *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req loginRequest
		if err := decodeBody(ctx, &req); err != nil {
			failure(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil || !creds.Check(req.Username, req.Password) {
			log.Warn("admin login failed", "ip", ctx.RemoteIP().String())
			failure(ctx, fasthttp.StatusUnauthorized, "Invalid credentials")
			return
		}

		id := sessions.Create(req.Username)
		middleware.SetSessionCookie(ctx, id, int(sessions.TTL().Seconds()))
		log.Info("admin logged in", "ip", ctx.RemoteIP().String())
		jsonResponse(ctx, map[string]any{"success": true, "message": "Login successful"})
	}
}

// Logout ends the current session, if any. It always succeeds.
func Logout(sessions *middleware.Sessions) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if id := middleware.SessionToken(ctx); id != "" {
			sessions.Delete(id)
		}
		middleware.SetSessionCookie(ctx, "", -1)
		jsonResponse(ctx, map[string]any{"success": true, "message": "Logged out successfully"})
	}
}

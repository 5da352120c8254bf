package middleware

import (
	"github.com/valyala/fasthttp"

	httpctx "licenseserver/internal/http/ctx"
)

// AdminAuth returns middleware that admits only requests carrying a live
// admin session and sets the admin on the context. Anything else gets
// 401 {"error":"Unauthorized"}.
func AdminAuth(sessions *Sessions) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			id := SessionToken(ctx)
			username, ok := sessions.Lookup(id)
			if !ok {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":"Unauthorized"}`)
				return
			}

			httpctx.SetSessionID(ctx, id)
			httpctx.SetAdmin(ctx, username)
			next(ctx)
		}
	}
}

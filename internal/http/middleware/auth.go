package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"
)

// SessionCookie is the cookie carrying the admin session id.
const SessionCookie = "session_id"

// SessionToken extracts the session id from the session cookie or, for
// API clients, from an "Authorization: Bearer <id>" header.
func SessionToken(ctx *fasthttp.RequestCtx) string {
	if c := ctx.Request.Header.Cookie(SessionCookie); len(c) > 0 {
		return string(c)
	}

	auth := ctx.Request.Header.Peek("Authorization")
	const prefix = "Bearer "
	if len(auth) == 0 || !bytes.HasPrefix(auth, []byte(prefix)) {
		return ""
	}
	return strings.TrimSpace(string(auth[len(prefix):]))
}

// SetSessionCookie writes the session cookie; maxAge < 0 clears it.
func SetSessionCookie(ctx *fasthttp.RequestCtx, id string, maxAge int) {
	var c fasthttp.Cookie
	c.SetKey(SessionCookie)
	c.SetValue(id)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	c.SetMaxAge(maxAge)
	ctx.Response.Header.SetCookie(&c)
}

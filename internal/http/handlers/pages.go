package handlers

import (
	"bytes"
	"time"

	"github.com/valyala/fasthttp"

	"licenseserver/internal/http/middleware"
	"licenseserver/internal/license"
	ui "licenseserver/web"
)

type LayoutData struct {
	Title        string
	ActivePage   string
	PageTemplate string
	LoggedIn     bool
	Username     string
	Keys         []KeyRow
}

// KeyRow is one line of the admin key table.
type KeyRow struct {
	license.MaskedKey
	Created string
	Expires string
	Expired bool
}

func layoutData(activePage, title string) LayoutData {
	return LayoutData{
		Title:        title,
		ActivePage:   activePage,
		PageTemplate: activePage,
	}
}

func renderLayout(ctx *fasthttp.RequestCtx, data LayoutData) {
	var buf bytes.Buffer
	if err := ui.Templates().ExecuteTemplate(&buf, "layout", data); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("render error")
		return
	}
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(buf.Bytes())
}

func IndexPage() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		renderLayout(ctx, layoutData("index", "License Server"))
	}
}

func VerifyPage() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		renderLayout(ctx, layoutData("verify", "Verify License"))
	}
}

func GetKeyPage() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		renderLayout(ctx, layoutData("get-key", "Get a Trial Key"))
	}
}

// AdminPage shows the login form, or the key table when the request
// carries a live admin session.
func AdminPage(engine *license.Engine, sessions *middleware.Sessions) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data := layoutData("admin", "Admin")

		username, ok := sessions.Lookup(middleware.SessionToken(ctx))
		if ok {
			data.LoggedIn = true
			data.Username = username

			now := time.Now()
			keys := engine.ListMasked(ctx)
			data.Keys = make([]KeyRow, 0, len(keys))
			for _, k := range keys {
				data.Keys = append(data.Keys, KeyRow{
					MaskedKey: k,
					Created:   FormatDate(k.CreatedAt),
					Expires:   FormatDate(k.ExpiresAt),
					Expired:   now.After(k.ExpiresAt),
				})
			}
		}

		ctx.Response.Header.Set("Cache-Control", "no-store")
		renderLayout(ctx, data)
	}
}

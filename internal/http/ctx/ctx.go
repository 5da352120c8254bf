package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	AdminKey     = "admin"
	SessionIDKey = "sessionID"
)

func SetAdmin(ctx *fasthttp.RequestCtx, username string) {
	ctx.SetUserValue(AdminKey, username)
}

// AdminFromCtx returns the admin username set by the AdminAuth middleware.
func AdminFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(AdminKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func SetSessionID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(SessionIDKey, id)
}

func SessionIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(SessionIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

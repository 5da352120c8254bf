package handlers

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"licenseserver/internal/db"
	httpctx "licenseserver/internal/http/ctx"
	"licenseserver/internal/http/middleware"
	"licenseserver/internal/license"
	"licenseserver/internal/logger"
)

var testLog = logger.New(io.Discard, "error", "text")

func newCtx(method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func asAdmin(ctx *fasthttp.RequestCtx) *fasthttp.RequestCtx {
	httpctx.SetAdmin(ctx, "admin")
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), "body: %s", ctx.Response.Body())
	return out
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newEngine(t *testing.T, opts ...license.Option) (*license.Engine, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]license.Option{license.WithClock(clock.Now), license.WithLogger(testLog)}, opts...)
	return license.New(db.NewMemoryStore(), opts...), clock
}

func generateKey(t *testing.T, engine *license.Engine, body string) string {
	t.Helper()
	ctx := asAdmin(newCtx(fasthttp.MethodPost, "/api/generate", body))
	Generate(engine, testLog)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	return decode(t, ctx)["license_key"].(string)
}

func TestGenerate(t *testing.T) {
	InitPrometheusMetrics()
	engine, _ := newEngine(t)

	ctx := asAdmin(newCtx(fasthttp.MethodPost, "/api/generate",
		`{"customer_name":"Acme","duration_days":"10","key_type":"pro","max_activations":3}`))
	Generate(engine, testLog)(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	assert.Equal(t, true, body["success"])
	assert.Regexp(t, license.KeyFormat, body["license_key"])
	assert.True(t, strings.HasPrefix(body["license_key"].(string), "PRO-"))
	assert.Equal(t, "2026-05-01T09:00:00Z", body["created_at"])
	assert.Equal(t, "2026-05-11T09:00:00Z", body["expires_at"])

	keys := engine.ListMasked(context.Background())
	require.Len(t, keys, 1)
	assert.Equal(t, "Acme", keys[0].CustomerName)
	assert.Equal(t, 3, keys[0].MaxActivations)
}

func TestGenerate_RequiresAdmin(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := newCtx(fasthttp.MethodPost, "/api/generate", `{}`)
	Generate(engine, testLog)(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Empty(t, engine.ListMasked(context.Background()))
}

func TestGenerate_RejectsInvalidInput(t *testing.T) {
	engine, _ := newEngine(t)

	cases := map[string]string{
		"malformed json":       `{"customer_name":`,
		"negative duration":    `{"duration_days":-1}`,
		"huge duration":        `{"duration_days":36501}`,
		"non numeric":          `{"duration_days":"ten"}`,
		"bad key type":         `{"key_type":"1X"}`,
		"negative activations": `{"max_activations":-5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := asAdmin(newCtx(fasthttp.MethodPost, "/api/generate", body))
			Generate(engine, testLog)(ctx)
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
			assert.Equal(t, false, decode(t, ctx)["success"])
		})
	}
	assert.Empty(t, engine.ListMasked(context.Background()))
}

func TestPublicGenerate(t *testing.T) {
	engine, _ := newEngine(t)

	ctx := newCtx(fasthttp.MethodPost, "/api/public-generate", "")
	PublicGenerate(engine, testLog)(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	assert.True(t, strings.HasPrefix(body["license_key"].(string), "TRL-"))
	assert.Equal(t, "2026-05-08T09:00:00Z", body["expires_at"])

	keys := engine.ListMasked(context.Background())
	require.Len(t, keys, 1)
	assert.Equal(t, license.TrialCustomerName, keys[0].CustomerName)
	assert.True(t, keys[0].PublicGenerated)
}

func TestVerify(t *testing.T) {
	engine, clock := newEngine(t)
	key := generateKey(t, engine, `{"customer_name":"Acme","max_activations":2}`)

	t.Run("missing key", func(t *testing.T) {
		ctx := newCtx(fasthttp.MethodPost, "/api/verify", `{"license_key":"   "}`)
		Verify(engine)(ctx)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"valid":false,"message":"License key is required"}`, string(ctx.Response.Body()))
	})

	t.Run("unknown key", func(t *testing.T) {
		ctx := newCtx(fasthttp.MethodPost, "/api/verify", `{"license_key":"STA-0000-0000-0000-0000"}`)
		Verify(engine)(ctx)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"valid":false,"message":"Invalid license key"}`, string(ctx.Response.Body()))
	})

	t.Run("valid key", func(t *testing.T) {
		ctx := newCtx(fasthttp.MethodPost, "/api/verify", `{"license_key":" `+key+` "}`)
		Verify(engine)(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.JSONEq(t, `{
			"valid": true,
			"message": "License key is valid",
			"customer_name": "Acme",
			"key_type": "STANDARD",
			"expires_at": "2026-05-31T09:00:00Z",
			"activations": 0,
			"max_activations": 2
		}`, string(ctx.Response.Body()))
		assert.NotContains(t, string(ctx.Response.Body()), key)
	})

	t.Run("expired key", func(t *testing.T) {
		clock.now = clock.now.Add(31 * 24 * time.Hour)
		ctx := newCtx(fasthttp.MethodPost, "/api/verify", `{"license_key":"`+key+`"}`)
		Verify(engine)(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"valid":false,"message":"License key has expired","expired":true}`, string(ctx.Response.Body()))
	})
}

func TestActivate(t *testing.T) {
	InitPrometheusMetrics()
	engine, _ := newEngine(t)
	key := generateKey(t, engine, `{}`)

	ctx := newCtx(fasthttp.MethodPost, "/api/activate", `{"license_key":"`+key+`"}`)
	Activate(engine, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":true,"message":"License activated successfully","activations":1,"max_activations":1}`,
		string(ctx.Response.Body()))

	ctx = newCtx(fasthttp.MethodPost, "/api/activate", `{"license_key":"`+key+`"}`)
	Activate(engine, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":false,"message":"Maximum activations reached"}`, string(ctx.Response.Body()))

	ctx = newCtx(fasthttp.MethodPost, "/api/activate", `{"license_key":"STA-0000-0000-0000-0000"}`)
	Activate(engine, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":false,"message":"Invalid license key"}`, string(ctx.Response.Body()))

	ctx = newCtx(fasthttp.MethodPost, "/api/activate", `{}`)
	Activate(engine, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":false,"message":"License key is required"}`, string(ctx.Response.Body()))
}

func TestActivate_StrictRejectsDeactivated(t *testing.T) {
	engine, _ := newEngine(t, license.WithStrictActivation(true))
	key := generateKey(t, engine, `{}`)
	_, err := engine.Toggle(context.Background(), license.HashKey(key))
	require.NoError(t, err)

	ctx := newCtx(fasthttp.MethodPost, "/api/activate", `{"license_key":"`+key+`"}`)
	Activate(engine, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":false,"message":"License key is deactivated"}`, string(ctx.Response.Body()))
}

func TestKeyAdministration(t *testing.T) {
	engine, _ := newEngine(t)
	key := generateKey(t, engine, `{"customer_name":"Acme"}`)
	hash := license.HashKey(key)

	t.Run("list is masked", func(t *testing.T) {
		ctx := asAdmin(newCtx(fasthttp.MethodGet, "/api/keys", ""))
		ListKeys(engine)(ctx)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

		var body struct {
			Keys []map[string]any `json:"keys"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
		require.Len(t, body.Keys, 1)
		assert.Equal(t, key[:8]+"****", body.Keys[0]["key"])
		assert.Equal(t, hash, body.Keys[0]["key_hash"])
		assert.Equal(t, "Acme", body.Keys[0]["customer_name"])
		assert.NotContains(t, string(ctx.Response.Body()), key)
	})

	t.Run("get", func(t *testing.T) {
		ctx := asAdmin(newCtx(fasthttp.MethodGet, "/api/keys/"+hash, ""))
		ctx.SetUserValue("hash", strings.ToUpper(hash))
		GetKey(engine)(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

		ctx = asAdmin(newCtx(fasthttp.MethodGet, "/api/keys/nope", ""))
		ctx.SetUserValue("hash", "nope")
		GetKey(engine)(ctx)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})

	t.Run("toggle", func(t *testing.T) {
		ctx := asAdmin(newCtx(fasthttp.MethodPost, "/api/keys/"+hash+"/toggle", ""))
		ctx.SetUserValue("hash", hash)
		ToggleKey(engine, testLog)(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"success":true,"status":"inactive"}`, string(ctx.Response.Body()))

		ctx = asAdmin(newCtx(fasthttp.MethodPost, "/api/keys/nope/toggle", ""))
		ctx.SetUserValue("hash", "nope")
		ToggleKey(engine, testLog)(ctx)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"success":false,"message":"Key not found"}`, string(ctx.Response.Body()))
	})

	t.Run("delete", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			ctx := asAdmin(newCtx(fasthttp.MethodDelete, "/api/keys/"+hash, ""))
			ctx.SetUserValue("hash", hash)
			DeleteKey(engine, testLog)(ctx)
			assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "delete is idempotent")
			assert.JSONEq(t, `{"success":true,"message":"Key deleted successfully"}`, string(ctx.Response.Body()))
		}
		assert.Empty(t, engine.ListMasked(context.Background()))
	})

	t.Run("requires admin", func(t *testing.T) {
		for _, h := range []fasthttp.RequestHandler{
			ListKeys(engine), GetKey(engine), ToggleKey(engine, testLog), DeleteKey(engine, testLog),
		} {
			ctx := newCtx(fasthttp.MethodGet, "/api/keys", "")
			h(ctx)
			assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
		}
	})
}

func TestKeyEvents(t *testing.T) {
	t.Run("disabled without database", func(t *testing.T) {
		ctx := asAdmin(newCtx(fasthttp.MethodGet, "/api/keys/abc/events", ""))
		ctx.SetUserValue("hash", "abc")
		KeyEvents(nil, testLog)(ctx)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})

	t.Run("lists audit trail", func(t *testing.T) {
		gdb, err := gorm.Open(sqlite.Open("file:handlers_key_events?mode=memory&cache=shared"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)
		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
		require.NoError(t, db.Migrate(gdb))

		events := db.NewEventLog(gdb, 30)
		engine, _ := newEngine(t, license.WithAuditor(events))
		key := generateKey(t, engine, `{}`)
		hash := license.HashKey(key)
		_, err = engine.Activate(context.Background(), key)
		require.NoError(t, err)

		ctx := asAdmin(newCtx(fasthttp.MethodGet, "/api/keys/"+hash+"/events?limit=10", ""))
		ctx.SetUserValue("hash", hash)
		KeyEvents(events, testLog)(ctx)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())

		var body struct {
			Events []eventView `json:"events"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
		require.Len(t, body.Events, 2)
		actions := []string{body.Events[0].Action, body.Events[1].Action}
		assert.ElementsMatch(t, []string{license.ActionGenerate, license.ActionActivate}, actions)
		assert.Equal(t, hash, body.Events[0].KeyHash)
	})

	t.Run("bad limit", func(t *testing.T) {
		ctx := asAdmin(newCtx(fasthttp.MethodGet, "/api/keys/abc/events?limit=x", ""))
		ctx.SetUserValue("hash", "abc")
		KeyEvents(&db.EventLog{}, testLog)(ctx)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	})
}

func TestLoginLogout(t *testing.T) {
	creds, err := middleware.NewCredentials("admin", "s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	sessions := middleware.NewSessions(time.Hour)

	ctx := newCtx(fasthttp.MethodPost, "/api/login", `{"username":"admin","password":"wrong"}`)
	Login(creds, sessions, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":false,"message":"Invalid credentials"}`, string(ctx.Response.Body()))

	ctx = newCtx(fasthttp.MethodPost, "/api/login", `{"username":"admin"}`)
	Login(creds, sessions, testLog)(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = newCtx(fasthttp.MethodPost, "/api/login", `{"username":"admin","password":"s3cret"}`)
	Login(creds, sessions, testLog)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var c fasthttp.Cookie
	c.SetKey(middleware.SessionCookie)
	require.True(t, ctx.Response.Header.Cookie(&c))
	id := string(c.Value())
	require.NotEmpty(t, id)
	assert.True(t, c.HTTPOnly())
	_, ok := sessions.Lookup(id)
	assert.True(t, ok)

	ctx = newCtx(fasthttp.MethodPost, "/api/logout", "")
	ctx.Request.Header.SetCookie(middleware.SessionCookie, id)
	Logout(sessions)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	_, ok = sessions.Lookup(id)
	assert.False(t, ok)
}

func TestPages(t *testing.T) {
	engine, _ := newEngine(t)
	key := generateKey(t, engine, `{"customer_name":"Acme"}`)
	sessions := middleware.NewSessions(time.Hour)

	for name, h := range map[string]fasthttp.RequestHandler{
		"index":   IndexPage(),
		"verify":  VerifyPage(),
		"get-key": GetKeyPage(),
	} {
		ctx := newCtx(fasthttp.MethodGet, "/"+name, "")
		h(ctx)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), name)
		assert.Contains(t, string(ctx.Response.Header.ContentType()), "text/html")
	}

	ctx := newCtx(fasthttp.MethodGet, "/admin", "")
	AdminPage(engine, sessions)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "login-form")
	assert.NotContains(t, string(ctx.Response.Body()), "Acme")

	ctx = newCtx(fasthttp.MethodGet, "/admin", "")
	ctx.Request.Header.SetCookie(middleware.SessionCookie, sessions.Create("admin"))
	AdminPage(engine, sessions)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	page := string(ctx.Response.Body())
	assert.Contains(t, page, "Acme")
	assert.Contains(t, page, key[:8]+"****")
	assert.NotContains(t, page, key)
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_things_total", Help: "Things."})
	reg.MustRegister(c)
	c.Add(3)

	ctx := newCtx(fasthttp.MethodGet, "/metrics", "")
	MetricsHandler(reg)(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "test_things_total 3")
}

func TestGenerate_CountsByPrefix(t *testing.T) {
	InitPrometheusMetrics()
	engine, _ := newEngine(t)

	before := testutil.ToFloat64(keysGenerated.WithLabelValues("PRE", "false"))
	key := generateKey(t, engine, `{"key_type":"premium-enterprise-edition"}`)
	assert.True(t, strings.HasPrefix(key, "PRE-"))
	assert.Equal(t, before+1, testutil.ToFloat64(keysGenerated.WithLabelValues("PRE", "false")))

	ctx := newCtx(fasthttp.MethodPost, "/api/public-generate", "")
	trialsBefore := testutil.ToFloat64(keysGenerated.WithLabelValues("TRL", "true"))
	PublicGenerate(engine, testLog)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, trialsBefore+1, testutil.ToFloat64(keysGenerated.WithLabelValues("TRL", "true")))

	var m dto.Metric
	require.NoError(t, keysGenerated.WithLabelValues("PRE", "false").Write(&m))
	for _, lp := range m.GetLabel() {
		assert.NotEqual(t, "premium-enterprise-edition", lp.GetValue())
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2026, 5, 1, 17, 4, 0, 0, time.UTC)
	assert.Equal(t, "2026-05-01", FormatDate(ts))
	assert.Equal(t, "2026-05-01 17:04", FormatDateTime(ts))
	assert.Equal(t, "-", FormatDate(time.Time{}))
	assert.Equal(t, "-", FormatDateTime(time.Time{}))
}

func TestLooseInt(t *testing.T) {
	var v struct {
		N looseInt `json:"n"`
	}
	for in, want := range map[string]int{
		`{"n":7}`:     7,
		`{"n":"12"}`:  12,
		`{"n":" 5 "}`: 5,
		`{"n":""}`:    0,
		`{}`:          0,
	} {
		v.N = 0
		require.NoError(t, json.Unmarshal([]byte(in), &v), in)
		assert.Equal(t, want, int(v.N), in)
	}
	assert.Error(t, json.Unmarshal([]byte(`{"n":"x"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"n":1.5}`), &v))
}

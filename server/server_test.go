package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-bridge/identity"
	"github.com/jrsteele09/go-identity-bridge/internal/config"
	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/jrsteele09/go-identity-bridge/server"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/jrsteele09/go-identity-bridge/settings"
	"github.com/jrsteele09/go-identity-bridge/signer"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/jrsteele09/go-identity-bridge/transport/transportfakes"
	"github.com/stretchr/testify/require"
)

const (
	testOwner     = "BC1YLowner"
	testDerived   = "BC1YLderived"
	testSignature = "3045022100secret"

	loginCallback  = "desomobile://login?publicKeyAdded=" + testOwner + "&users=%7B%22BC1YLowner%22%3A%7B%7D%7D&signedUp=true"
	deriveCallback = "desomobile://derive?derivedPublicKeyBase58Check=" + testDerived + "&accessSignature=" + testSignature + "&expirationBlock=1200"
)

type serverFixture struct {
	adapter *transportfakes.Adapter
	machine *protocol.Machine
	server  *server.Server
}

func testServices(machine *protocol.Machine, hub *transport.RedirectHub) server.Services {
	return server.Services{
		Machine:   machine,
		Signer:    signer.New(machine),
		Settings:  settings.NewManager(securestore.NewMemory()),
		Redirects: hub,
	}
}

func setupServerFixture(t *testing.T, steps ...transportfakes.Step) *serverFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	f := &serverFixture{adapter: transportfakes.NewAdapter(transport.KindSystemBrowser, steps...)}
	f.machine = protocol.New(identity.NewProvider(), f.adapter, session.NewStore(securestore.NewMemory()))

	srv, err := server.New(config.New(), testServices(f.machine, transport.NewRedirectHub()))
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *serverFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(method, target, reader))

	decoded := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestServer_New(t *testing.T) {
	t.Run("requires every service", func(t *testing.T) {
		_, err := server.New(config.New(), server.Services{})
		require.Error(t, err)
	})

	t.Run("registers routes", func(t *testing.T) {
		f := setupServerFixture(t)
		require.Contains(t, f.server.Routes(), "GET "+server.RouteRelay)
		require.Contains(t, f.server.Routes(), "POST "+server.RouteAPISign)
	})
}

func TestServer_Health(t *testing.T) {
	f := setupServerFixture(t)
	rec, body := f.do(t, http.MethodGet, server.RouteHealth, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestServer_Relay(t *testing.T) {
	f := setupServerFixture(t)
	rec, _ := f.do(t, http.MethodGet, server.RouteRelay+"?kind=login", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	require.Contains(t, rec.Body.String(), "-complete")
}

func TestServer_Login(t *testing.T) {
	t.Run("login and derive", func(t *testing.T) {
		f := setupServerFixture(t, transportfakes.Callback(loginCallback), transportfakes.Callback(deriveCallback))

		rec, body := f.do(t, http.MethodPost, server.RouteAPILogin, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, testOwner, body["ownerPublicKey"])
		require.Equal(t, testDerived, body["derivedPublicKey"])
		require.Equal(t, true, body["authenticated"])
		require.Equal(t, true, body["signedUp"])
		require.Equal(t, []any{testOwner}, body["accounts"])
		require.Equal(t, "Authenticated", body["state"])
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		require.NotContains(t, rec.Body.String(), testSignature)
	})

	t.Run("login without derive", func(t *testing.T) {
		f := setupServerFixture(t, transportfakes.Callback(loginCallback))

		rec, body := f.do(t, http.MethodPost, server.RouteAPILogin, `{"derive":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, false, body["authenticated"])
		require.Equal(t, 1, f.adapter.CallCount())
	})

	t.Run("cancelled", func(t *testing.T) {
		f := setupServerFixture(t, transportfakes.Cancelled())

		rec, body := f.do(t, http.MethodPost, server.RouteAPILogin, "")
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "user_cancelled", body["error"])
		require.Equal(t, protocol.StateIdle, f.machine.State())
	})

	t.Run("timed out", func(t *testing.T) {
		f := setupServerFixture(t, transportfakes.TimedOut())

		rec, body := f.do(t, http.MethodPost, server.RouteAPILogin, "")
		require.Equal(t, http.StatusGatewayTimeout, rec.Code)
		require.Equal(t, "timeout", body["error"])
	})

	t.Run("bad body", func(t *testing.T) {
		f := setupServerFixture(t)
		rec, _ := f.do(t, http.MethodPost, server.RouteAPILogin, "{")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Zero(t, f.adapter.CallCount())
	})
}

func TestServer_Sign(t *testing.T) {
	t.Run("not authorized before login", func(t *testing.T) {
		f := setupServerFixture(t)
		rec, body := f.do(t, http.MethodPost, server.RouteAPISign, `{"transactionHex":"0a0b"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "not_authorized", body["error"])
		require.Zero(t, f.adapter.CallCount())
	})

	t.Run("signs after login", func(t *testing.T) {
		f := setupServerFixture(t,
			transportfakes.Callback(loginCallback),
			transportfakes.Callback(deriveCallback),
			transportfakes.Callback("desomobile://sign?signedTransactionHex=0a0bff"),
		)
		rec, _ := f.do(t, http.MethodPost, server.RouteAPILogin, "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := f.do(t, http.MethodPost, server.RouteAPISign, `{"transactionHex":"0a0b"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "0a0bff", body["signedTransactionHex"])
	})

	t.Run("invalid hex", func(t *testing.T) {
		f := setupServerFixture(t)
		rec, body := f.do(t, http.MethodPost, server.RouteAPISign, `{"transactionHex":"zz"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_transaction", body["error"])
	})
}

func TestServer_SessionAndLogout(t *testing.T) {
	f := setupServerFixture(t, transportfakes.Callback(loginCallback), transportfakes.Callback(deriveCallback))
	rec, _ := f.do(t, http.MethodPost, server.RouteAPILogin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodGet, server.RouteAPISession, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, testOwner, body["ownerPublicKey"])
	require.Equal(t, float64(1200), body["expirationBlock"])
	require.NotContains(t, rec.Body.String(), testSignature)

	rec, _ = f.do(t, http.MethodPost, server.RouteAPILogout, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, body = f.do(t, http.MethodGet, server.RouteAPISession, "")
	require.Nil(t, body["ownerPublicKey"])
	require.Equal(t, false, body["authenticated"])
	require.Equal(t, "Idle", body["state"])
}

func TestServer_Settings(t *testing.T) {
	f := setupServerFixture(t)

	_, body := f.do(t, http.MethodGet, server.RouteAPISettings, "")
	require.Equal(t, settings.DefaultNodeBase, body["nodeBase"])
	require.Equal(t, "dark", body["theme"])

	rec, body := f.do(t, http.MethodPut, server.RouteAPISettings, `{"theme":"light"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "light", body["theme"])
	require.Equal(t, settings.DefaultNodeBase, body["nodeBase"])

	rec, body = f.do(t, http.MethodPut, server.RouteAPISettings, `{"nodeBase":"ftp://node"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_settings", body["error"])

	_, body = f.do(t, http.MethodGet, server.RouteHealth, "")
	require.Equal(t, settings.DefaultNodeBase, body["nodeBase"])

	rec, _ = f.do(t, http.MethodPut, server.RouteAPISettings, `{"nodeBase":"https://node.example/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://node.example", f.server.NodeBase())

	_, body = f.do(t, http.MethodGet, server.RouteHealth, "")
	require.Equal(t, "https://node.example", body["nodeBase"])
}

func TestServer_LoopbackCallback(t *testing.T) {
	t.Setenv("ENV", "TEST")

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	defer ts.Close()

	hub := transport.NewRedirectHub()
	browser := transportfakes.NewBrowser()
	provider := identity.NewProvider(identity.WithLinkBase(ts.URL + server.RouteCallback))
	machine := protocol.New(provider, transport.NewSystemBrowserAdapter(browser, hub),
		session.NewStore(securestore.NewMemory()), protocol.WithTimeout(5*time.Second))

	srv, err := server.New(config.New(), testServices(machine, hub))
	require.NoError(t, err)
	handler = srv

	t.Run("no attempt waiting", func(t *testing.T) {
		resp, err := http.Get(ts.URL + server.RouteCallback + "login?publicKey=" + testOwner)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusGone, resp.StatusCode)
	})

	t.Run("callback resolves the login", func(t *testing.T) {
		type loginReply struct {
			status int
			body   map[string]any
			err    error
		}
		replies := make(chan loginReply, 1)
		go func() {
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost,
				ts.URL+server.RouteAPILogin, strings.NewReader(`{"derive":false}`))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				replies <- loginReply{err: err}
				return
			}
			defer resp.Body.Close()
			body := map[string]any{}
			err = json.NewDecoder(resp.Body).Decode(&body)
			replies <- loginReply{status: resp.StatusCode, body: body, err: err}
		}()

		select {
		case opened := <-browser.Opened():
			require.Contains(t, opened, "https://identity.deso.org/log-in")
		case <-time.After(2 * time.Second):
			t.Fatal("browser was never opened")
		}

		resp, err := http.Get(ts.URL + server.RouteCallback + "login?publicKeyAdded=" + testOwner)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case reply := <-replies:
			require.NoError(t, reply.err)
			require.Equal(t, http.StatusOK, reply.status)
			require.Equal(t, testOwner, reply.body["ownerPublicKey"])
		case <-time.After(2 * time.Second):
			t.Fatal("login did not complete")
		}
	})
}

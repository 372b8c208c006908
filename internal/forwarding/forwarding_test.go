package forwarding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/matheuscscp/session-proxy-e2e/internal/constants"
	"github.com/matheuscscp/session-proxy-e2e/internal/issuer"
	"github.com/matheuscscp/session-proxy-e2e/internal/keys"
	"github.com/matheuscscp/session-proxy-e2e/internal/verifier"
)

const (
	pathRegistration = "/self-service/registration"
	pathLogin        = "/self-service/login"
	pathLogout       = "/self-service/logout"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"headers": r.Header})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// proxyDouble behaves like the session proxy in front of the echo upstream.
// In direct mode it swaps the session cookie for a bearer token, in tunnel
// mode it forwards the cookie as is.
type proxyDouble struct {
	mode   Mode
	issuer issuer.Issuer
	srv    *httptest.Server

	mu       sync.Mutex
	users    map[string]string
	sessions map[string]*issuer.Session
}

func newProxyDouble(t *testing.T, mode Mode, upstream string) *proxyDouble {
	t.Helper()
	target, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("failed to parse upstream URL: %v", err)
	}

	p := &proxyDouble{
		mode:     mode,
		issuer:   issuer.New(),
		users:    make(map[string]string),
		sessions: make(map[string]*issuer.Session),
	}

	forward := &httputil.ReverseProxy{Rewrite: func(pr *httputil.ProxyRequest) {
		pr.SetURL(target)
		pr.Out.Header.Del(constants.HeaderAuthorization)
		if p.mode != ModeDirect {
			return
		}
		s := p.sessionOf(pr.In)
		if s == nil {
			return
		}
		tok, err := p.issuer.Issue(p.srv.URL, s, time.Now())
		if err != nil {
			return
		}
		tok.SetAuthHeader(pr.Out)
	}}

	mux := http.NewServeMux()
	mux.HandleFunc(pathRegistration, func(w http.ResponseWriter, r *http.Request) {
		email, password := r.PostFormValue("email"), r.PostFormValue("password")
		p.mu.Lock()
		_, exists := p.users[email]
		if !exists {
			p.users[email] = password
		}
		p.mu.Unlock()
		if exists {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		p.startSession(w, email)
	})
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		email, password := r.PostFormValue("email"), r.PostFormValue("password")
		p.mu.Lock()
		want, ok := p.users[email]
		p.mu.Unlock()
		if !ok || want != password {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		p.startSession(w, email)
	})
	mux.HandleFunc(pathLogout, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(constants.SessionCookieName); err == nil {
			p.mu.Lock()
			delete(p.sessions, c.Value)
			p.mu.Unlock()
		}
		http.SetCookie(w, &http.Cookie{Name: constants.SessionCookieName, Path: "/", MaxAge: -1})
	})
	mux.HandleFunc(constants.PathWhoami, func(w http.ResponseWriter, r *http.Request) {
		if p.sessionOf(r) == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(constants.PathProxyJWKS, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": p.issuer.PublicKeys(time.Now())})
	})
	mux.Handle("/", forward)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *proxyDouble) startSession(w http.ResponseWriter, email string) {
	s := issuer.NewSession(email)
	p.mu.Lock()
	p.sessions[s.ID] = s
	p.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
	})
}

func (p *proxyDouble) sessionOf(r *http.Request) *issuer.Session {
	c, err := r.Cookie(constants.SessionCookieName)
	if err != nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[c.Value]
}

func (p *proxyDouble) contract(mode Mode) *Contract {
	endpoint, _ := url.Parse(p.srv.URL + constants.PathProxyJWKS)
	resolve := keys.NewResolver().KeyFunc(endpoint)
	v := verifier.New()
	return &Contract{
		Mode:       mode,
		CookieName: constants.SessionCookieName,
		Verify: func(ctx context.Context, token string) (verifier.Claims, error) {
			return v.Verify(ctx, token, resolve)
		},
	}
}

type browser struct {
	t      *testing.T
	proxy  *proxyDouble
	client *http.Client
}

func newBrowser(t *testing.T, proxy *proxyDouble) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &browser{t: t, proxy: proxy, client: &http.Client{Jar: jar}}
}

func (b *browser) submit(path, email, password string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.proxy.srv.URL+path, url.Values{
		"email":    {email},
		"password": {password},
	})
	if err != nil {
		b.t.Fatalf("failed to submit %s: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.t.Fatalf("expected status code 200 from %s but got %d", path, resp.StatusCode)
	}
}

func (b *browser) harness(c *Contract) *Harness {
	return &Harness{
		Contract: c,
		Client:   b.client,
		EchoURL:  b.proxy.srv.URL + constants.PathEcho,
	}
}

func TestHarness_Scenarios(t *testing.T) {
	for _, tt := range []struct {
		name     string
		mode     Mode
		email    string
		password string
	}{
		{
			name:     "direct",
			mode:     ModeDirect,
			email:    "e1@x.com",
			password: "pw1",
		},
		{
			name:     "tunnel",
			mode:     ModeTunnel,
			email:    "e2@x.com",
			password: "pw2",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			echo := newEchoServer(t)
			proxy := newProxyDouble(t, tt.mode, echo.URL)
			b := newBrowser(t, proxy)
			h := b.harness(proxy.contract(tt.mode))
			ch := NewChannel(tt.mode)

			g.Expect(h.Assert(ctx, ch)).To(Succeed())

			b.submit(pathRegistration, tt.email, tt.password)
			g.Expect(ch.Apply(EventRegister, tt.email)).To(Succeed())
			g.Expect(h.Assert(ctx, ch)).To(Succeed())

			b.submit(pathLogout, "", "")
			g.Expect(ch.Apply(EventLogout, "")).To(Succeed())
			g.Expect(h.Assert(ctx, ch)).To(Succeed())

			b.submit(pathLogin, tt.email, tt.password)
			g.Expect(ch.Apply(EventLogin, tt.email)).To(Succeed())
			g.Expect(h.Assert(ctx, ch)).To(Succeed())

			b.submit(pathLogout, "", "")
			g.Expect(ch.Apply(EventLogout, "")).To(Succeed())
			g.Expect(h.Assert(ctx, ch)).To(Succeed())
		})
	}
}

func TestHarness_DirectForwardsVerifiableToken(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	echo := newEchoServer(t)
	proxy := newProxyDouble(t, ModeDirect, echo.URL)
	b := newBrowser(t, proxy)
	b.submit(pathRegistration, "e1@x.com", "pw1")

	obs, err := Observe(ctx, b.client, proxy.srv.URL+constants.PathEcho)
	g.Expect(err).ToNot(HaveOccurred())

	authz, ok := obs.Authorization()
	g.Expect(ok).To(BeTrue())
	scheme, token, _ := strings.Cut(authz, " ")
	g.Expect(strings.EqualFold(scheme, "bearer")).To(BeTrue())

	claims, err := proxy.contract(ModeDirect).Verify(ctx, token)
	g.Expect(err).ToNot(HaveOccurred())
	email, ok := claims.Email()
	g.Expect(ok).To(BeTrue())
	g.Expect(email).To(Equal("e1@x.com"))
}

func TestHarness_TunnelForwardsSessionCookie(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	echo := newEchoServer(t)
	proxy := newProxyDouble(t, ModeTunnel, echo.URL)
	b := newBrowser(t, proxy)
	b.submit(pathRegistration, "e2@x.com", "pw2")

	obs, err := Observe(ctx, b.client, proxy.srv.URL+constants.PathEcho)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(obs.CookieHeader()).To(ContainSubstring(constants.SessionCookieName))
	_, ok := obs.Authorization()
	g.Expect(ok).To(BeFalse())
}

func TestHarness_WrongPassword(t *testing.T) {
	g := NewWithT(t)

	echo := newEchoServer(t)
	proxy := newProxyDouble(t, ModeDirect, echo.URL)
	b := newBrowser(t, proxy)
	b.submit(pathRegistration, "e1@x.com", "pw1")
	b.submit(pathLogout, "", "")

	resp, err := b.client.PostForm(proxy.srv.URL+pathLogin, url.Values{
		"email":    {"e1@x.com"},
		"password": {"wrong"},
	})
	g.Expect(err).ToNot(HaveOccurred())
	resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

	// The login flow did not complete so the channel stays unauthenticated.
	g.Expect(b.harness(proxy.contract(ModeDirect)).Assert(context.Background(), NewChannel(ModeDirect))).To(Succeed())
}

func TestContract_Check(t *testing.T) {
	echo := newEchoServer(t)
	proxy := newProxyDouble(t, ModeDirect, echo.URL)

	s := issuer.NewSession("e1@x.com")
	tok, err := proxy.issuer.Issue(proxy.srv.URL, s, time.Now())
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	foreign, err := issuer.New().Issue(proxy.srv.URL, s, time.Now())
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	authenticated := func(mode Mode) *Channel {
		return NewChannelInState(mode, StateAuthenticated, "e1@x.com")
	}
	cookie := func(v string) http.Header {
		return http.Header{"Cookie": {v}}
	}

	for _, tt := range []struct {
		name       string
		mode       Mode
		channel    *Channel
		headers    http.Header
		violation  bool
		verifyCode verifier.ErrorCode
	}{
		{
			name:    "direct authenticated with valid token",
			mode:    ModeDirect,
			channel: authenticated(ModeDirect),
			headers: http.Header{"Authorization": {"bearer " + tok.AccessToken}},
		},
		{
			name:    "direct authenticated accepts any scheme case",
			mode:    ModeDirect,
			channel: authenticated(ModeDirect),
			headers: http.Header{"Authorization": {"Bearer " + tok.AccessToken}},
		},
		{
			name:      "direct authenticated without header",
			mode:      ModeDirect,
			channel:   authenticated(ModeDirect),
			headers:   http.Header{},
			violation: true,
		},
		{
			name:      "direct authenticated with basic scheme",
			mode:      ModeDirect,
			channel:   authenticated(ModeDirect),
			headers:   http.Header{"Authorization": {"Basic dXNlcjpwYXNz"}},
			violation: true,
		},
		{
			name:      "direct authenticated with empty token",
			mode:      ModeDirect,
			channel:   authenticated(ModeDirect),
			headers:   http.Header{"Authorization": {"bearer "}},
			violation: true,
		},
		{
			name:       "direct authenticated with garbage token",
			mode:       ModeDirect,
			channel:    authenticated(ModeDirect),
			headers:    http.Header{"Authorization": {"bearer not-a-token"}},
			violation:  true,
			verifyCode: verifier.ErrCodeMalformed,
		},
		{
			name:       "direct authenticated with token from another issuer",
			mode:       ModeDirect,
			channel:    authenticated(ModeDirect),
			headers:    http.Header{"Authorization": {"bearer " + foreign.AccessToken}},
			violation:  true,
			verifyCode: verifier.ErrCodeKeyResolutionFailed,
		},
		{
			name:      "direct authenticated with token for another email",
			mode:      ModeDirect,
			channel:   NewChannelInState(ModeDirect, StateAuthenticated, "someone@x.com"),
			headers:   http.Header{"Authorization": {"bearer " + tok.AccessToken}},
			violation: true,
		},
		{
			name:    "direct unauthenticated without header",
			mode:    ModeDirect,
			channel: NewChannel(ModeDirect),
			headers: http.Header{},
		},
		{
			name:      "direct unauthenticated with empty header",
			mode:      ModeDirect,
			channel:   NewChannel(ModeDirect),
			headers:   http.Header{"Authorization": {""}},
			violation: true,
		},
		{
			name:    "tunnel authenticated with cookie",
			mode:    ModeTunnel,
			channel: authenticated(ModeTunnel),
			headers: cookie("theme=dark; ory_session_playground=abc"),
		},
		{
			name:      "tunnel authenticated without cookie",
			mode:      ModeTunnel,
			channel:   authenticated(ModeTunnel),
			headers:   cookie("theme=dark"),
			violation: true,
		},
		{
			name:    "tunnel unauthenticated without cookie",
			mode:    ModeTunnel,
			channel: NewChannel(ModeTunnel),
			headers: http.Header{},
		},
		{
			name:    "tunnel unauthenticated with empty cookie",
			mode:    ModeTunnel,
			channel: NewChannel(ModeTunnel),
			headers: cookie("ory_session_playground="),
		},
		{
			name:      "tunnel unauthenticated with cookie and no probe",
			mode:      ModeTunnel,
			channel:   NewChannel(ModeTunnel),
			headers:   cookie("ory_session_playground=abc"),
			violation: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			c := proxy.contract(tt.mode)
			err := c.Check(context.Background(), tt.channel, &Observation{Headers: tt.headers})

			if !tt.violation {
				g.Expect(err).ToNot(HaveOccurred())
				return
			}
			var v *ViolationError
			g.Expect(errors.As(err, &v)).To(BeTrue())
			g.Expect(v.Mode).To(Equal(tt.mode))
			g.Expect(v.State).To(Equal(tt.channel.State()))
			g.Expect(v.Error()).To(ContainSubstring("forwarding contract violated"))
			if tt.verifyCode != "" {
				g.Expect(verifier.CodeOf(err)).To(Equal(tt.verifyCode))
			}
		})
	}
}

func TestContract_Check_ModeMismatch(t *testing.T) {
	g := NewWithT(t)

	c := &Contract{Mode: ModeTunnel}
	err := c.Check(context.Background(), NewChannel(ModeDirect), &Observation{Headers: http.Header{}})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("does not match contract mode"))

	var v *ViolationError
	g.Expect(errors.As(err, &v)).To(BeFalse())
}

func TestContract_Check_StaleCookie(t *testing.T) {
	ctx := context.Background()

	echo := newEchoServer(t)
	proxy := newProxyDouble(t, ModeTunnel, echo.URL)
	b := newBrowser(t, proxy)
	b.submit(pathRegistration, "e2@x.com", "pw2")

	obs, err := Observe(ctx, b.client, proxy.srv.URL+constants.PathEcho)
	if err != nil {
		t.Fatalf("failed to observe: %v", err)
	}
	probe := NewWhoamiProbe(nil, proxy.srv.URL+constants.PathWhoami)

	t.Run("active session after logout is a violation", func(t *testing.T) {
		g := NewWithT(t)
		c := proxy.contract(ModeTunnel)
		c.Probe = probe
		err := c.Check(ctx, NewChannel(ModeTunnel), obs)
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("still grants a session"))
	})

	b.submit(pathLogout, "", "")

	t.Run("replayed cookie without probe is a violation", func(t *testing.T) {
		g := NewWithT(t)
		err := proxy.contract(ModeTunnel).Check(ctx, NewChannel(ModeTunnel), obs)
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("still forwarded after logout"))
	})

	t.Run("replayed cookie rejected by probe passes", func(t *testing.T) {
		g := NewWithT(t)
		c := proxy.contract(ModeTunnel)
		c.Probe = probe
		g.Expect(c.Check(ctx, NewChannel(ModeTunnel), obs)).To(Succeed())
	})

	t.Run("probe failure is reported", func(t *testing.T) {
		g := NewWithT(t)
		c := proxy.contract(ModeTunnel)
		c.Probe = func(context.Context, *http.Cookie) (bool, error) {
			return false, errors.New("boom")
		}
		err := c.Check(ctx, NewChannel(ModeTunnel), obs)
		g.Expect(err).To(MatchError(ContainSubstring("boom")))
		var v *ViolationError
		g.Expect(errors.As(err, &v)).To(BeFalse())
	})
}

func TestChannel_Apply(t *testing.T) {
	for _, tt := range []struct {
		name      string
		state     State
		event     Event
		email     string
		wantState State
		wantEmail string
		err       string
	}{
		{
			name:      "register",
			state:     StateUnauthenticated,
			event:     EventRegister,
			email:     "e1@x.com",
			wantState: StateAuthenticated,
			wantEmail: "e1@x.com",
		},
		{
			name:      "login",
			state:     StateUnauthenticated,
			event:     EventLogin,
			email:     "e2@x.com",
			wantState: StateAuthenticated,
			wantEmail: "e2@x.com",
		},
		{
			name:      "logout",
			state:     StateAuthenticated,
			event:     EventLogout,
			wantState: StateUnauthenticated,
		},
		{
			name:      "login while authenticated",
			state:     StateAuthenticated,
			event:     EventLogin,
			email:     "e2@x.com",
			wantState: StateAuthenticated,
			err:       "already authenticated",
		},
		{
			name:      "register without email",
			state:     StateUnauthenticated,
			event:     EventRegister,
			wantState: StateUnauthenticated,
			err:       "email is empty",
		},
		{
			name:      "logout while unauthenticated",
			state:     StateUnauthenticated,
			event:     EventLogout,
			wantState: StateUnauthenticated,
			err:       "not authenticated",
		},
		{
			name:      "unknown event",
			state:     StateUnauthenticated,
			event:     Event("recovery"),
			wantState: StateUnauthenticated,
			err:       "unknown event 'recovery'",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			ch := NewChannelInState(ModeDirect, tt.state, "")
			err := ch.Apply(tt.event, tt.email)

			if tt.err != "" {
				g.Expect(err).To(MatchError(ContainSubstring(tt.err)))
			} else {
				g.Expect(err).ToNot(HaveOccurred())
				g.Expect(ch.Email()).To(Equal(tt.wantEmail))
			}
			g.Expect(ch.State()).To(Equal(tt.wantState))
		})
	}
}

func TestParseModeAndState(t *testing.T) {
	g := NewWithT(t)

	m, err := ParseMode("tunnel")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(m).To(Equal(ModeTunnel))
	_, err = ParseMode("socks")
	g.Expect(err).To(MatchError("invalid mode 'socks', must be one of [direct, tunnel]"))

	s, err := ParseState("authenticated")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(s).To(Equal(StateAuthenticated))
	_, err = ParseState("pending")
	g.Expect(err).To(MatchError("invalid state 'pending', must be one of [unauthenticated, authenticated]"))
}

func TestDecodeObservation(t *testing.T) {
	for _, tt := range []struct {
		name       string
		body       string
		authz      string
		authzFound bool
		cookies    string
		err        string
	}{
		{
			name:       "string values",
			body:       `{"headers":{"authorization":"bearer abc","Cookie":"a=b"}}`,
			authz:      "bearer abc",
			authzFound: true,
			cookies:    "a=b",
		},
		{
			name:       "list values",
			body:       `{"headers":{"Authorization":["bearer abc"],"Cookie":["a=b","c=d"]}}`,
			authz:      "bearer abc",
			authzFound: true,
			cookies:    "a=b; c=d",
		},
		{
			name: "no headers received",
			body: `{"headers":{}}`,
		},
		{
			name: "missing headers member",
			body: `{"args":{}}`,
			err:  "echo report has no 'headers' member",
		},
		{
			name: "non-string value",
			body: `{"headers":{"X-Count":1}}`,
			err:  "header 'X-Count' is neither a string nor a list of strings",
		},
		{
			name: "not JSON",
			body: `<html>`,
			err:  "failed to decode echo report",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			obs, err := DecodeObservation(strings.NewReader(tt.body))
			if tt.err != "" {
				g.Expect(err).To(MatchError(ContainSubstring(tt.err)))
				return
			}
			g.Expect(err).ToNot(HaveOccurred())

			authz, found := obs.Authorization()
			g.Expect(found).To(Equal(tt.authzFound))
			g.Expect(authz).To(Equal(tt.authz))
			g.Expect(obs.CookieHeader()).To(Equal(tt.cookies))
		})
	}
}

func TestObserve_Errors(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := Observe(context.Background(), http.DefaultClient, srv.URL)
	g.Expect(err).To(MatchError(ContainSubstring("expected status code 200 but got 502")))

	_, err = Observe(context.Background(), http.DefaultClient, "://bad")
	g.Expect(err).To(MatchError(ContainSubstring("failed to create request")))
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planvia/agent-oauth/identity"
	"github.com/planvia/agent-oauth/instrumentation"
	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/server"
)

// Endpoint paths registered by Routes
const (
	PathMetadata            = "/.well-known/oauth-authorization-server"
	PathOpenIDConfiguration = "/.well-known/openid-configuration"
	PathRegistration        = "/register"
	PathAuthorization       = "/authorize"
	PathToken               = "/token"
)

const (
	defaultCORSMaxAge = 3600 // preflight cache, seconds
	tokenTypeBearer   = "Bearer"
)

// Handler is a thin HTTP adapter for the authorization Server.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation() != nil {
		h.tracer = srv.Instrumentation().Tracer("http")
	}

	return h
}

// Routes registers all endpoints on the given mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(PathMetadata, h.ServeMetadata)
	mux.HandleFunc(PathOpenIDConfiguration, h.ServeMetadata)
	mux.HandleFunc(PathRegistration, h.ServeClientRegistration)
	mux.HandleFunc(PathAuthorization, h.ServeAuthorization)
	mux.HandleFunc(PathToken, h.ServeToken)
}

// setCORSHeaders answers cross-origin requests from any origin. Agent
// clients run from unpredictable origins, and nothing on these endpoints
// relies on cookies, so the wildcard is safe.
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", defaultCORSMaxAge))
}

// handlePreflight answers OPTIONS preflight requests. Returns true if the
// request was a preflight and has been handled.
func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	h.setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
	return true
}

// ServeMetadata handles RFC 8414 authorization server metadata requests.
// The OpenID configuration path serves the same document for clients that
// only know OIDC discovery.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.handlePreflight(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	codeChallengeMethods := []string{server.PKCEMethodS256}
	if !h.server.Config.DisallowPKCEPlain {
		codeChallengeMethods = append(codeChallengeMethods, server.PKCEMethodPlain)
	}

	metadata := AuthorizationServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + PathAuthorization,
		TokenEndpoint:          issuer + PathToken,
		RegistrationEndpoint:   issuer + PathRegistration,
		ScopesSupported:        h.server.Config.SupportedScopes,
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{
			server.TokenEndpointAuthMethodNone,
			server.TokenEndpointAuthMethodBasic,
			server.TokenEndpointAuthMethodPost,
		},
		CodeChallengeMethodsSupported: codeChallengeMethods,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("Failed to encode metadata", "error", err)
	}

	h.recordHTTPMetrics(r.Context(), "metadata", r.Method, http.StatusOK, startTime)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if h.handlePreflight(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	clientIP := security.ClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if !h.checkRateLimit(ctx, w, clientIP, "register") {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid request body")
		h.writeError(w, server.ErrorCodeInvalidRequest, "Invalid JSON request body", http.StatusBadRequest)
		return
	}

	registration := &server.ClientRegistration{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
		Contacts:                req.Contacts,
		LogoURI:                 req.LogoURI,
		ClientURI:               req.ClientURI,
		PolicyURI:               req.PolicyURI,
		TosURI:                  req.TosURI,
	}

	client, clientSecret, err := h.server.RegisterClient(ctx, registration, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "register", r.Method, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID))
	instrumentation.SetSpanSuccess(span)

	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0, // secrets do not expire
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		LogoURI:                 client.LogoURI,
		PolicyURI:               client.PolicyURI,
		TosURI:                  client.TosURI,
		Contacts:                client.Contacts,
		Scope:                   client.Scope,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode registration response", "error", err)
	}

	h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusCreated, startTime)
}

// ServeAuthorization handles authorization requests. A request without a
// platform session is redirected to the login page with a return_to
// parameter, so the flow resumes where it left off after sign-in.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
	}

	if h.handlePreflight(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.ClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if !h.checkRateLimit(ctx, w, clientIP, "authorize") {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	query := r.URL.Query()
	req := &server.AuthorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		ResponseType:        query.Get("response_type"),
		State:               query.Get("state"),
		Scope:               query.Get("scope"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod))

	// Malformed requests fail before any login round trip
	if err := h.server.ValidateAuthorizeRequest(ctx, req); err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, errorStatus(err), startTime)
		return
	}

	session, err := h.server.Identity().ResolveSession(ctx, r)
	if err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			loginURL := h.buildLoginRedirect(r)
			if h.server.Auditor != nil {
				h.server.Auditor.LogEvent(security.Event{
					Type:      security.EventLoginRedirect,
					ClientID:  req.ClientID,
					IPAddress: clientIP,
				})
			}
			h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
			http.Redirect(w, r, loginURL, http.StatusFound)
			return
		}
		h.logger.Error("Failed to resolve session", "error", err)
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, server.ErrorCodeServerError, "Failed to resolve session", http.StatusInternalServerError)
		return
	}

	redirectURL, err := h.server.Authorize(ctx, session, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// buildLoginRedirect builds the login page URL with the original
// authorization request as the return_to target.
func (h *Handler) buildLoginRedirect(r *http.Request) string {
	returnTo := strings.TrimSuffix(h.server.Config.Issuer, "/") + r.URL.RequestURI()

	loginURL, err := url.Parse(h.server.Config.LoginURL)
	if err != nil {
		return h.server.Config.LoginURL
	}
	q := loginURL.Query()
	q.Set("return_to", returnTo)
	loginURL.RawQuery = q.Encode()
	return loginURL.String()
}

// ServeToken handles token requests for both supported grant types
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if h.handlePreflight(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	if err := parseTokenRequest(r); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.FormValue("grant_type")
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, server.ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
	}
}

// parseTokenRequest populates r.Form from either a form-encoded or a JSON
// body, so the grant handlers read parameters uniformly through FormValue.
func parseTokenRequest(r *http.Request) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return r.ParseForm()
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}

	form := make(url.Values, len(params))
	for key, value := range params {
		if s, ok := value.(string); ok {
			form.Set(key, s)
		}
	}
	r.Form = form
	r.PostForm = form
	return nil
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.ClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if !h.checkRateLimit(ctx, w, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	clientID, err := h.authenticateClient(ctx, r)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, server.GrantTypeAuthorizationCode))

	tokens, err := h.server.ExchangeAuthorizationCode(ctx, code, clientID, redirectURI, codeVerifier, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	h.writeTokenResponse(w, tokens)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.ClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if !h.checkRateLimit(ctx, w, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	refreshToken := r.FormValue("refresh_token")

	clientID, err := h.authenticateClient(ctx, r)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, server.GrantTypeRefreshToken))

	tokens, err := h.server.RefreshAccessToken(ctx, refreshToken, clientID, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, errorStatus(err), startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	h.writeTokenResponse(w, tokens)
}

// authenticateClient extracts client credentials from Basic auth or the
// form body and authenticates them. Basic auth wins when both are present.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request) (string, error) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		// RFC 6749 appendix B: credentials are form-urlencoded inside Basic auth
		if decoded, err := url.QueryUnescape(basicID); err == nil {
			basicID = decoded
		}
		if decoded, err := url.QueryUnescape(basicSecret); err == nil {
			basicSecret = decoded
		}
		clientID = basicID
		clientSecret = basicSecret
	}

	if clientID == "" {
		return "", server.ErrInvalidRequest("client_id is required")
	}

	if err := h.server.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
		return "", err
	}

	return clientID, nil
}

// grantContextKey is the context key for the verified grant
type grantContextKey struct{}

// GrantFromContext returns the grant stored by RequireAccessToken
func GrantFromContext(ctx context.Context) (*server.Grant, bool) {
	grant, ok := ctx.Value(grantContextKey{}).(*server.Grant)
	return grant, ok
}

// RequireAccessToken is middleware for resource servers. It verifies the
// bearer token on each request and passes the grant along in the context;
// requests without a valid token get a 401 with a WWW-Authenticate header.
func (h *Handler) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, tokenTypeBearer+" ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", tokenTypeBearer)
			h.writeError(w, server.ErrorCodeInvalidRequest, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		grant, err := h.server.VerifyAccessToken(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("%s error=%q", tokenTypeBearer, "invalid_token"))
			h.writeError(w, "invalid_token", "Access token is invalid or expired", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), grantContextKey{}, grant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkRateLimit applies the per-IP rate limiter if one is configured.
// Returns false after writing the error response when the caller is over.
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil {
		return true
	}
	if h.server.RateLimiter.Allow(clientIP) {
		return true
	}

	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	}
	if h.server.Instrumentation() != nil {
		h.server.Instrumentation().Metrics().RecordRateLimitExceeded(ctx, "ip")
	}

	h.writeError(w, server.ErrorCodeRateLimitExceeded, "Too many requests, slow down", http.StatusTooManyRequests)
	return false
}

// writeOAuthError writes an error from the server package, falling back to
// server_error for anything that is not an *server.Error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *server.Error
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	h.logger.Error("Unclassified error reached HTTP layer", "error", err)
	h.writeError(w, server.ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, tokens *server.Tokens) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	// RFC 6749 section 5.1: token responses must not be cached
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	resp := TokenResponse{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
		RefreshToken: tokens.RefreshToken,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode token response", "error", err)
	}
}

// errorStatus extracts the HTTP status from an error for metrics
func errorStatus(err error) int {
	var oauthErr *server.Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Status
	}
	return http.StatusInternalServerError
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation() == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation().Metrics().RecordHTTPRequest(ctx, method, endpoint, status, durationMs)
}

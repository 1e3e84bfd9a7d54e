// Package jobbertest runs an in-process fake of the Jobber GraphQL and
// OAuth token endpoints for tests.
package jobbertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// GraphQLPath is where the fake serves GraphQL.
	GraphQLPath = "/api/graphql"
	// TokenPath is where the fake serves the OAuth token endpoint.
	TokenPath = "/api/oauth/token"
	// AuthorizePath is the fake authorize URL path. It is never served.
	AuthorizePath = "/api/oauth/authorize"
)

// Product is a catalog item. Cost is sent as-is so tests can use numbers,
// numeric strings or nil.
type Product struct {
	ID   string
	Name string
	Code string
	Cost any
}

// Update records one accepted catalog mutation.
type Update struct {
	ID    string
	Cost  float64
	Price *float64
	Token string
}

// Server is a fake Jobber.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	products      []Product
	codeSupported bool
	useEdges      bool
	graphQLStatus int
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	authCodes     map[string]bool
	rejectIDs     map[string]string
	unauthorizeOn map[string]int
	omitExpiresIn bool
	tokenDelay    time.Duration
	expiresIn     int
	account       [2]string
	issued        int
	updates       []Update
	calls         map[string]int
	refreshesSeen []string
	disconnects   int
}

// NewServer starts a fake with code support enabled.
func NewServer() *Server {
	s := &Server{
		codeSupported: true,
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]bool),
		authCodes:     make(map[string]bool),
		rejectIDs:     make(map[string]string),
		unauthorizeOn: make(map[string]int),
		expiresIn:     3600,
		account:       [2]string{"acc-1", "Acme Plumbing"},
		calls:         make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(GraphQLPath, s.handleGraphQL)
	mux.HandleFunc(TokenPath, s.handleToken)
	s.Server = httptest.NewServer(mux)
	return s
}

// GraphQLURL is the fake GraphQL endpoint.
func (s *Server) GraphQLURL() string { return s.URL + GraphQLPath }

// TokenURL is the fake token endpoint.
func (s *Server) TokenURL() string { return s.URL + TokenPath }

// AuthorizeURL is the fake authorize endpoint.
func (s *Server) AuthorizeURL() string { return s.URL + AuthorizePath }

// SetProducts replaces the catalog.
func (s *Server) SetProducts(products ...Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append([]Product(nil), products...)
}

// SetCodeSupported controls whether queries selecting code succeed.
func (s *Server) SetCodeSupported(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeSupported = ok
}

// SetUseEdges switches catalog pages to the relay edges shape.
func (s *Server) SetUseEdges(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useEdges = ok
}

// SetGraphQLStatus forces every GraphQL response to this status. Zero resets.
func (s *Server) SetGraphQLStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphQLStatus = code
}

// SetAccount sets what the account query returns.
func (s *Server) SetAccount(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = [2]string{id, name}
}

// SetOmitExpiresIn drops expires_in from token responses.
func (s *Server) SetOmitExpiresIn(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitExpiresIn = ok
}

// SetTokenDelay delays token responses. The grant is spent on receipt.
func (s *Server) SetTokenDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenDelay = d
}

// AcceptAccessToken marks token as valid for GraphQL calls.
func (s *Server) AcceptAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token] = true
}

// ExpireAccessToken makes GraphQL calls with token return 401.
func (s *Server) ExpireAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, token)
}

// ExpireAllAccessTokens invalidates every issued access token.
func (s *Server) ExpireAllAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]bool)
}

// AcceptRefreshToken registers a single-use refresh token.
func (s *Server) AcceptRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token] = true
}

// AcceptAuthCode registers a single-use authorization code.
func (s *Server) AcceptAuthCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = true
}

// RejectUpdate makes mutations on id return a userError.
func (s *Server) RejectUpdate(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectIDs[id] = message
}

// UnauthorizeAfter makes the nth (1-based) call of operation return 401 and
// expire every access token at that moment. Operations are "probe", "page",
// "update" and "account".
func (s *Server) UnauthorizeAfter(operation string, nth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unauthorizeOn[operation] = nth
}

// Updates returns the accepted mutations in order.
func (s *Server) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

// Calls returns how many times operation was requested.
func (s *Server) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// RefreshTokensSeen lists refresh tokens presented to the token endpoint.
func (s *Server) RefreshTokensSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refreshesSeen...)
}

// Disconnects returns the number of appDisconnect mutations served.
func (s *Server) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func operationOf(query string) string {
	switch {
	case strings.Contains(query, "productsAndServicesEdit"):
		return "update"
	case strings.Contains(query, "appDisconnect"):
		return "disconnect"
	case strings.Contains(query, "account {"):
		return "account"
	case strings.Contains(query, "productOrServices"):
		return "page"
	}
	return "unknown"
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	op := operationOf(req.Query)
	if op == "page" && req.Variables["first"] == float64(1) && strings.Contains(req.Query, "code") {
		op = "probe"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++

	if s.graphQLStatus != 0 {
		http.Error(w, "forced", s.graphQLStatus)
		return
	}

	if n, ok := s.unauthorizeOn[op]; ok && n == s.calls[op] {
		s.accessTokens = make(map[string]bool)
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !s.accessTokens[token] {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	switch op {
	case "probe", "page":
		if strings.Contains(req.Query, "code") && !s.codeSupported {
			writeJSON(w, map[string]any{"errors": []map[string]any{{"message": "Field 'code' doesn't exist on type 'ProductOrService'"}}})
			return
		}
		writeJSON(w, s.page(req.Variables, strings.Contains(req.Query, "code")))
	case "update":
		s.update(w, req.Variables, token)
	case "account":
		writeJSON(w, map[string]any{"data": map[string]any{"account": map[string]any{"id": s.account[0], "name": s.account[1]}}})
	case "disconnect":
		s.disconnects++
		writeJSON(w, map[string]any{"data": map[string]any{"appDisconnect": map[string]any{"app": map[string]any{"id": "app"}, "userErrors": []any{}}}})
	default:
		writeJSON(w, map[string]any{"errors": []map[string]any{{"message": "unknown operation"}}})
	}
}

func (s *Server) page(vars map[string]any, withCode bool) map[string]any {
	first := 100
	if f, ok := vars["first"].(float64); ok && f > 0 {
		first = int(f)
	}
	start := 0
	if after, ok := vars["after"].(string); ok && after != "" {
		start, _ = strconv.Atoi(after)
	}

	end := start + first
	if end > len(s.products) {
		end = len(s.products)
	}
	if start > end {
		start = end
	}

	nodes := make([]map[string]any, 0, end-start)
	for _, p := range s.products[start:end] {
		n := map[string]any{"id": p.ID, "name": p.Name, "internalUnitCost": p.Cost}
		if withCode {
			if p.Code == "" {
				n["code"] = nil
			} else {
				n["code"] = p.Code
			}
		}
		nodes = append(nodes, n)
	}

	conn := map[string]any{
		"pageInfo": map[string]any{"hasNextPage": end < len(s.products), "endCursor": strconv.Itoa(end)},
	}
	if s.useEdges {
		edges := make([]map[string]any, 0, len(nodes))
		for _, n := range nodes {
			edges = append(edges, map[string]any{"node": n})
		}
		conn["edges"] = edges
	} else {
		conn["nodes"] = nodes
	}
	return map[string]any{"data": map[string]any{"productOrServices": conn}}
}

func (s *Server) update(w http.ResponseWriter, vars map[string]any, token string) {
	id, _ := vars["productOrServiceId"].(string)
	if msg, ok := s.rejectIDs[id]; ok {
		writeJSON(w, editResponse([]any{map[string]any{"message": msg, "path": []string{"input"}}}))
		return
	}

	u := Update{ID: id, Token: token}
	u.Cost, _ = vars["internalUnitCost"].(float64)
	if p, ok := vars["unitPrice"].(float64); ok {
		u.Price = &p
	}
	s.updates = append(s.updates, u)
	writeJSON(w, editResponse([]any{}))
}

func editResponse(userErrors []any) map[string]any {
	return map[string]any{"data": map[string]any{"productsAndServicesEdit": map[string]any{
		"productOrService": map[string]any{"id": "x"},
		"userErrors":       userErrors,
	}}}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	body, ok := s.issue(r.PostForm)

	s.mu.Lock()
	delay := s.tokenDelay
	s.mu.Unlock()
	// The grant is already spent; a slow reply does not give it back.
	time.Sleep(delay)

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	writeJSON(w, body)
}

// issue spends the grant in form and returns a fresh token pair.
func (s *Server) issue(form url.Values) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch form.Get("grant_type") {
	case "refresh_token":
		rt := form.Get("refresh_token")
		s.refreshesSeen = append(s.refreshesSeen, rt)
		if !s.refreshTokens[rt] {
			return nil, false
		}
		delete(s.refreshTokens, rt)
	case "authorization_code":
		code := form.Get("code")
		if !s.authCodes[code] {
			return nil, false
		}
		delete(s.authCodes, code)
	default:
		return nil, false
	}

	s.issued++
	access := fmt.Sprintf("at-%d", s.issued)
	refresh := fmt.Sprintf("rt-%d", s.issued)
	s.accessTokens[access] = true
	s.refreshTokens[refresh] = true

	body := map[string]any{"access_token": access, "refresh_token": refresh, "token_type": "bearer"}
	if !s.omitExpiresIn {
		body["expires_in"] = s.expiresIn
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

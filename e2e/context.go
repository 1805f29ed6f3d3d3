// Package e2e drives a running soulid server through Gherkin scenarios.
//
// The server is shared across scenarios, so every scenario works with fresh
// random holder addresses and suffixes every name it uses with a per-scenario
// nonce. Only the operator is fixed: it must match the server's
// SOULID_OPERATOR.
package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorAlias is the caller alias bound to the configured operator.
const OperatorAlias = "operator"

// TestContext carries one scenario's callers, last response and remembered
// identity ids.
type TestContext struct {
	BaseURL    string
	SigningKey string
	Issuer     string
	Operator   string

	client     *http.Client
	nonce      string
	callers    map[string]string
	caller     string
	identities map[string]string
	lastStatus int
	lastBody   []byte
}

// NewTestContext returns a context for a server at baseURL.
func NewTestContext(baseURL, signingKey, issuer, operator string) *TestContext {
	tc := &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SigningKey: signingKey,
		Issuer:     issuer,
		Operator:   strings.ToLower(operator),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	tc.Reset()
	return tc
}

// Reset starts a new scenario.
func (tc *TestContext) Reset() {
	tc.nonce = randomHex(3)
	tc.callers = map[string]string{OperatorAlias: tc.Operator}
	tc.caller = ""
	tc.identities = map[string]string{}
	tc.lastStatus = 0
	tc.lastBody = nil
}

// Address returns the address behind alias, creating a random one on first
// use.
func (tc *TestContext) Address(alias string) string {
	if addr, ok := tc.callers[alias]; ok {
		return addr
	}
	addr := "0x" + randomHex(20)
	tc.callers[alias] = addr
	return addr
}

// ActAs makes alias the caller of subsequent requests. An empty alias sends
// requests without a token.
func (tc *TestContext) ActAs(alias string) {
	if alias != "" {
		tc.Address(alias)
	}
	tc.caller = alias
}

// Name makes name unique to the scenario.
func (tc *TestContext) Name(name string) string {
	return name + "-" + tc.nonce
}

// RememberIdentity records the identity id minted for alias.
func (tc *TestContext) RememberIdentity(alias, identityID string) {
	tc.identities[alias] = identityID
}

// IdentityOf returns the identity id remembered for alias.
func (tc *TestContext) IdentityOf(alias string) (string, error) {
	identityID, ok := tc.identities[alias]
	if !ok {
		return "", fmt.Errorf("no identity remembered for %q", alias)
	}
	return identityID, nil
}

func (tc *TestContext) GET(path string) error {
	return tc.Do(http.MethodGet, path, nil)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.Do(http.MethodPost, path, body)
}

func (tc *TestContext) PUT(path string, body any) error {
	return tc.Do(http.MethodPut, path, body)
}

func (tc *TestContext) DELETE(path string) error {
	return tc.Do(http.MethodDelete, path, nil)
}

// Do sends one request as the current caller and records the response.
func (tc *TestContext) Do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.caller != "" {
		token, err := tc.token(tc.callers[tc.caller])
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) token(address string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   address,
		Issuer:    tc.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.SigningKey))
}

// Status returns the last response's status code.
func (tc *TestContext) Status() int {
	return tc.lastStatus
}

// Body returns the last response body.
func (tc *TestContext) Body() []byte {
	return tc.lastBody
}

// ResponseField looks up a dotted path such as "identity.id" in the last
// JSON response.
func (tc *TestContext) ResponseField(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w (body: %s)", err, tc.lastBody)
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		cur, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q missing in %s", path, tc.lastBody)
		}
	}
	return cur, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

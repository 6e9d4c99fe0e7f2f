package remote

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	dropboxAuthURL  = "https://www.dropbox.com/oauth2/authorize"
	dropboxTokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// Endpoint returns the Dropbox OAuth2 endpoint.
func Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: dropboxAuthURL, TokenURL: dropboxTokenURL}
}

// Flow drives the interactive OAuth link. PKCE is used throughout, so
// no app secret ships with the binary.
type Flow struct {
	ClientID string

	// Manual skips the localhost callback server and asks the user to
	// paste the authorization code instead. Needed over SSH or in
	// containers where no browser can reach a local port.
	Manual bool

	// RelayServer, when non-empty, exchanges the authorization code
	// through a relay holding the app credentials instead of calling
	// the token endpoint directly.
	RelayServer string

	// Endpoint overrides the OAuth endpoint in tests.
	Endpoint oauth2.Endpoint

	// OpenBrowser launches the user's browser. Defaults to openBrowser.
	OpenBrowser func(url string) error

	Stderr io.Writer
	Stdin  io.Reader
}

func (f *Flow) stderr() io.Writer {
	if f.Stderr != nil {
		return f.Stderr
	}
	return os.Stderr
}

func (f *Flow) stdin() io.Reader {
	if f.Stdin != nil {
		return f.Stdin
	}
	return os.Stdin
}

func (f *Flow) endpoint() oauth2.Endpoint {
	if f.Endpoint.TokenURL != "" {
		return f.Endpoint
	}
	return Endpoint()
}

// Run obtains a token interactively.
func (f *Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	if f.ClientID == "" {
		return nil, errors.New("missing OAuth client ID")
	}
	if f.Manual {
		return f.runManual(ctx)
	}
	return f.runCallback(ctx)
}

func (f *Flow) runManual(ctx context.Context) (*oauth2.Token, error) {
	verifier := oauth2.GenerateVerifier()
	cfg := &oauth2.Config{ClientID: f.ClientID, Endpoint: f.endpoint()}
	authURL := cfg.AuthCodeURL("",
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"))

	fmt.Fprintf(f.stderr(), "Open the following link in a browser and authorize the app:\n\n  %s\n\n", authURL)
	f.browse(authURL)
	fmt.Fprint(f.stderr(), "Paste the authorization code here: ")

	line, err := f.readLine()
	if err != nil {
		return nil, err
	}
	code, _ := extractCodeAndState(line)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	return f.exchange(ctx, cfg, code, verifier)
}

func (f *Flow) runCallback(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}
	defer ln.Close()

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		ClientID:    f.ClientID,
		Endpoint:    f.endpoint(),
		RedirectURL: fmt.Sprintf("http://%s/callback", ln.Addr()),
	}
	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"))

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- errors.New("state mismatch in OAuth callback")
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
			errCh <- fmt.Errorf("authorization failed: %s", e)
			return
		}
		fmt.Fprintln(w, "Linked. You can close this window and return to the terminal.")
		codeCh <- q.Get("code")
	})}
	go srv.Serve(ln)
	defer srv.Close()

	fmt.Fprintf(f.stderr(), "Opening your browser to authorize this device:\n\n  %s\n\n", authURL)
	f.browse(authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.exchange(ctx, cfg, code, verifier)
}

func (f *Flow) exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (*oauth2.Token, error) {
	if f.RelayServer != "" {
		return relayExchange(ctx, f.RelayServer, relayExchangeRequest{
			Code:         code,
			CodeVerifier: verifier,
			RedirectURI:  cfg.RedirectURL,
		})
	}
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func (f *Flow) browse(url string) {
	open := f.OpenBrowser
	if open == nil {
		open = openBrowser
	}
	if err := open(url); err != nil {
		fmt.Fprintf(f.stderr(), "Could not open a browser automatically: %v\n", err)
	}
}

func (f *Flow) readLine() (string, error) {
	r := bufio.NewReader(f.stdin())
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// extractCodeAndState accepts either a bare authorization code or a
// full pasted redirect URL and pulls code and state out of it.
func extractCodeAndState(raw string) (code, state string) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") || strings.Contains(raw, "?") {
		if u, err := url.Parse(raw); err == nil {
			q := u.Query()
			if c := q.Get("code"); c != "" {
				return c, q.Get("state")
			}
		}
	}
	return raw, ""
}

func randomState() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

type relayExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type relayExchangeResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

func relayExchange(ctx context.Context, server string, reqBody relayExchangeRequest) (*oauth2.Token, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(server, "/")+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call relay server: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("relay exchange failed: %s: %s", res.Status, strings.TrimSpace(string(b)))
	}

	var rr relayExchangeResponse
	if err := json.NewDecoder(res.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	if rr.RefreshToken == "" {
		return nil, errors.New("relay response missing refresh token")
	}
	return &oauth2.Token{
		AccessToken:  rr.AccessToken,
		RefreshToken: rr.RefreshToken,
		Expiry:       rr.Expiry,
	}, nil
}

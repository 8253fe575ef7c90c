package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/patrickmn/go-cache"
)

const (
	PathCompleteSync = "/sync/complete"
	PathSingleSync   = "/sync/single"
	PathUpload       = "/sync/upload"
	PathDownloadURL  = "/sync/getDownloadUrl"
	PathNow          = "/public/now"
	PathLogin        = "/auth/login"
	PathRegister     = "/auth/register"
	PathRefresh      = "/auth/refresh"

	// refreshSkew is how close to expiry a token is refreshed proactively.
	refreshSkew = 30 * time.Second

	maxErrorBody = 4 << 10
)

// API is the sync service surface used by the schedulers.
type API interface {
	ServerTime(ctx context.Context) (int64, error)
	CompleteSync(ctx context.Context, req models.CompleteSyncRequest) (*models.CompleteSyncResponse, error)
	SyncSingle(ctx context.Context, req models.SingleSyncRequest) (int64, error)
	Upload(ctx context.Context, req UploadRequest) (int64, error)
	DownloadURL(ctx context.Context, md5, clipType string) (*models.DownloadURLResponse, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

// AuthAPI is the account surface.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*models.Credentials, error)
	Register(ctx context.Context, username, password string) (*models.Credentials, error)
	Logout(ctx context.Context) error
	LoggedIn() bool
}

// UploadRequest describes a binary payload for POST /sync/upload.
type UploadRequest struct {
	Path string
	MD5  string
	Type models.ClipType
	// Name overrides the multipart file name; defaults to the base of Path.
	Name string
}

type Options struct {
	BaseURL string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration
	Tokens    *TokenManager
	Logger    logging.Logger
	// OnAuthExpired runs after a failed refresh cleared the credentials.
	OnAuthExpired func(ctx context.Context)
	// URLCacheTTL bounds how long download URLs are reused.
	URLCacheTTL time.Duration
	Now         func() time.Time
}

// HTTPClient implements API and AuthAPI.
type HTTPClient struct {
	base          string
	http          *http.Client
	tokens        *TokenManager
	log           logging.Logger
	onAuthExpired func(ctx context.Context)
	urls          *cache.Cache
	now           func() time.Time

	refreshMu sync.Mutex
}

func New(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Tokens == nil {
		opts.Tokens = &TokenManager{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.URLCacheTTL <= 0 {
		opts.URLCacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPClient{
		base:          strings.TrimRight(opts.BaseURL, "/"),
		http:          &http.Client{Transport: transport, Timeout: opts.Timeout},
		tokens:        opts.Tokens,
		log:           opts.Logger.With("component", "client"),
		onAuthExpired: opts.OnAuthExpired,
		urls:          cache.New(opts.URLCacheTTL, cache.NoExpiration),
		now:           opts.Now,
	}
}

func (c *HTTPClient) Tokens() *TokenManager { return c.tokens }

func (c *HTTPClient) LoggedIn() bool { return c.tokens.LoggedIn() }

// body produces a fresh request body per attempt.
type body func() (io.Reader, string, error)

func jsonBody(v any) body {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", common.Wrap(common.KindSerialization, "encode request", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func (c *HTTPClient) send(ctx context.Context, method, url string, mk body, token string) (*http.Response, error) {
	var (
		rd          io.Reader
		contentType string
	)
	if mk != nil {
		var err error
		if rd, contentType, err = mk(); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		if rc, ok := rd.(io.Closer); ok {
			rc.Close()
		}
		return nil, common.Wrap(common.KindHttp, "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	// streamed bodies must not outlive the attempt
	if rc, ok := rd.(io.Closer); ok {
		rc.Close()
	}
	if err != nil {
		return nil, common.Wrap(common.KindNetwork, method+" "+url, err)
	}
	return resp, nil
}

func decode(resp *http.Response, op string, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return common.Wrap(common.KindHttp, op,
			&HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.Wrap(common.KindSerialization, op, err)
	}
	return nil
}

// call performs an unauthenticated request.
func (c *HTTPClient) call(ctx context.Context, method, path string, mk body, out any) error {
	resp, err := c.send(ctx, method, c.base+path, mk, "")
	if err != nil {
		return err
	}
	return decode(resp, method+" "+path, out)
}

// authed performs an authenticated request with one refresh-and-retry on 401.
func (c *HTTPClient) authed(ctx context.Context, method, path string, mk body, out any) error {
	if !c.tokens.LoggedIn() {
		return common.ErrNotLoggedIn
	}
	if c.tokens.ExpiresWithin(c.now(), refreshSkew) {
		if err := c.refresh(ctx, c.tokens.AccessToken()); err != nil {
			return err
		}
	}

	token := c.tokens.AccessToken()
	resp, err := c.send(ctx, method, c.base+path, mk, token)
	if err != nil {
		return err
	}
	op := method + " " + path
	if resp.StatusCode != http.StatusUnauthorized {
		return decode(resp, op, out)
	}
	drain(resp)

	if err := c.refresh(ctx, token); err != nil {
		return err
	}
	resp, err = c.send(ctx, method, c.base+path, mk, c.tokens.AccessToken())
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.expire(ctx)
		return common.ErrAuthExpired
	}
	return decode(resp, op, out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// refresh exchanges the refresh token. stale is the access token the caller
// saw; if another goroutine already replaced it the refresh is skipped.
func (c *HTTPClient) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if current := c.tokens.AccessToken(); current != "" && current != stale {
		return nil
	}
	rt := c.tokens.RefreshToken()
	if rt == "" {
		c.expire(ctx)
		return common.ErrAuthExpired
	}

	var creds models.Credentials
	err := c.call(ctx, http.MethodPost, PathRefresh, jsonBody(models.RefreshRequest{RefreshToken: rt}), &creds)
	if err != nil {
		// a network failure says nothing about the refresh token
		if common.KindOf(err) == common.KindNetwork {
			return err
		}
		c.log.Warn(ctx, "token refresh rejected", "error", err)
		c.expire(ctx)
		return fmt.Errorf("%w: %v", common.ErrAuthExpired, err)
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = rt
	}
	if creds.UserInfo == (models.UserInfo{}) {
		if u, ok := c.tokens.User(); ok {
			creds.UserInfo = u
		}
	}
	return c.tokens.Set(ctx, &creds)
}

func (c *HTTPClient) expire(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.log.Error(ctx, "clearing credentials", "error", err)
	}
	if c.onAuthExpired != nil {
		c.onAuthExpired(ctx)
	}
}

func (c *HTTPClient) ServerTime(ctx context.Context) (int64, error) {
	var out models.TimestampResponse
	if err := c.call(ctx, http.MethodGet, PathNow, nil, &out); err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

func (c *HTTPClient) CompleteSync(ctx context.Context, req models.CompleteSyncRequest) (*models.CompleteSyncResponse, error) {
	if req.Clips == nil {
		req.Clips = []models.CloudClip{}
	}
	var out models.CompleteSyncResponse
	if err := c.authed(ctx, http.MethodPost, PathCompleteSync, jsonBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SyncSingle(ctx context.Context, req models.SingleSyncRequest) (int64, error) {
	var out models.TimestampResponse
	if err := c.authed(ctx, http.MethodPost, PathSingleSync, jsonBody(req), &out); err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

// Upload streams the file at req.Path as multipart form data.
func (c *HTTPClient) Upload(ctx context.Context, req UploadRequest) (int64, error) {
	if _, err := os.Stat(req.Path); err != nil {
		return 0, common.Wrap(common.KindIo, "upload", err)
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}
	mk := func() (io.Reader, string, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUpload(mw, req, name))
		}()
		return pr, mw.FormDataContentType(), nil
	}

	var out models.TimestampResponse
	if err := c.authed(ctx, http.MethodPost, PathUpload, mk, &out); err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

func writeUpload(mw *multipart.Writer, req UploadRequest, name string) error {
	if err := mw.WriteField("md5Str", req.MD5); err != nil {
		return err
	}
	if err := mw.WriteField("type", string(req.Type)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

// DownloadURL resolves where a remote binary can be fetched. Results are
// cached per (type, md5) for the configured TTL.
func (c *HTTPClient) DownloadURL(ctx context.Context, md5, clipType string) (*models.DownloadURLResponse, error) {
	key := clipType + "/" + md5
	if v, ok := c.urls.Get(key); ok {
		out := v.(models.DownloadURLResponse)
		return &out, nil
	}
	// no janitor goroutine; expired entries go on misses
	c.urls.DeleteExpired()
	var out models.DownloadURLResponse
	req := models.DownloadURLRequest{MD5Str: md5, Type: clipType}
	if err := c.authed(ctx, http.MethodPost, PathDownloadURL, jsonBody(req), &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, common.Wrap(common.KindHttp, "download url", errors.New("empty url"))
	}
	c.urls.SetDefault(key, out)
	return &out, nil
}

// ForgetDownloadURL drops a cached URL, e.g. after it stopped working.
func (c *HTTPClient) ForgetDownloadURL(md5, clipType string) {
	c.urls.Delete(clipType + "/" + md5)
}

// Download fetches a (presigned) URL without the bearer token.
func (c *HTTPClient) Download(ctx context.Context, url string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return common.Wrap(common.KindHttp, "download", &HTTPError{Status: resp.StatusCode, Body: string(b)})
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return common.Wrap(common.KindNetwork, "download", err)
	}
	return nil
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (*models.Credentials, error) {
	return c.authenticate(ctx, PathLogin, username, password)
}

func (c *HTTPClient) Register(ctx context.Context, username, password string) (*models.Credentials, error) {
	return c.authenticate(ctx, PathRegister, username, password)
}

func (c *HTTPClient) authenticate(ctx context.Context, path, username, password string) (*models.Credentials, error) {
	var creds models.Credentials
	err := c.call(ctx, http.MethodPost, path, jsonBody(models.AuthRequest{Username: username, Password: password}), &creds)
	if err != nil {
		if StatusOf(err) == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
		}
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, common.Wrap(common.KindHttp, path, common.ErrInvalidToken)
	}
	if err := c.tokens.Set(ctx, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Logout forgets the local credentials. The server keeps no session state
// that needs revoking.
func (c *HTTPClient) Logout(ctx context.Context) error {
	c.urls.Flush()
	return c.tokens.Clear(ctx)
}

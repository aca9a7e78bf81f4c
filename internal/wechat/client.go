// Package wechat はWeChatミニプログラムAPIとの通信と、アプリ単位のアクセストークン管理を提供する。
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL はWeChat APIのベースURL。
	DefaultBaseURL = "https://api.weixin.qq.com"

	// defaultTokenTTL はexpires_inが返されない場合のトークン有効秒数。
	defaultTokenTTL = 7200

	// defaultQRCodeWidth は小程序コード画像の幅（px）。
	defaultQRCodeWidth = 430

	// maxResponseSize はレスポンスボディの読み込み上限。
	maxResponseSize = 2 * 1024 * 1024
)

// pngSignature はPNG画像の先頭バイト列。
var pngSignature = []byte{0x89, 'P', 'N', 'G'}

// Config はWeChat APIクライアントの設定。
type Config struct {
	AppID     string
	AppSecret string

	// テスト用にオーバーライド可能
	BaseURL    string
	HTTPClient *http.Client
}

// Client はWeChat APIクライアント。
type Client struct {
	config Config
	http   *http.Client
}

// NewClient はClientを生成する。
// HTTPClientが未指定の場合は10秒タイムアウトのクライアントを使用する。
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{config: config, http: httpClient}
}

// AppID はクライアントのAppIDを返す。
func (c *Client) AppID() string {
	return c.config.AppID
}

// APIError はWeChat APIが非ゼロのerrcodeを返したことを表す。
type APIError struct {
	ErrCode int
	ErrMsg  string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error: errcode=%d errmsg=%s", e.ErrCode, e.ErrMsg)
}

// errorResponse は全APIに共通するエラー項目。
type errorResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (r errorResponse) err() error {
	if r.ErrCode == 0 {
		return nil
	}
	return &APIError{ErrCode: r.ErrCode, ErrMsg: r.ErrMsg}
}

// SessionInfo はjscode2sessionの結果。
type SessionInfo struct {
	OpenID     string
	SessionKey string
	UnionID    string
}

type code2SessionResponse struct {
	errorResponse
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
}

// Code2Session はミニプログラムのログインコードをOpenIDとセッションキーに交換する。
func (c *Client) Code2Session(ctx context.Context, code string) (*SessionInfo, error) {
	params := url.Values{
		"appid":      {c.config.AppID},
		"secret":     {c.config.AppSecret},
		"js_code":    {code},
		"grant_type": {"authorization_code"},
	}

	var resp code2SessionResponse
	if err := c.getJSON(ctx, "/sns/jscode2session", params, &resp); err != nil {
		return nil, fmt.Errorf("jscode2session request failed: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if resp.OpenID == "" {
		return nil, fmt.Errorf("empty openid in jscode2session response")
	}

	return &SessionInfo{
		OpenID:     resp.OpenID,
		SessionKey: resp.SessionKey,
		UnionID:    resp.UnionID,
	}, nil
}

// TokenInfo はアクセストークン取得APIの結果。
type TokenInfo struct {
	Token     string
	ExpiresIn int
}

type tokenResponse struct {
	errorResponse
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// FetchAccessToken はアプリのアクセストークンを新たに取得する。
// expires_inが返されない場合は7200秒とみなす。
func (c *Client) FetchAccessToken(ctx context.Context) (*TokenInfo, error) {
	params := url.Values{
		"grant_type": {"client_credential"},
		"appid":      {c.config.AppID},
		"secret":     {c.config.AppSecret},
	}

	var resp tokenResponse
	if err := c.getJSON(ctx, "/cgi-bin/token", params, &resp); err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("empty access_token in token response")
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultTokenTTL
	}

	return &TokenInfo{Token: resp.AccessToken, ExpiresIn: expiresIn}, nil
}

// qrCodeRequest はgetwxacodeunlimitのリクエストボディ。
type qrCodeRequest struct {
	Scene     string `json:"scene"`
	Page      string `json:"page"`
	Width     int    `json:"width"`
	CheckPath bool   `json:"check_path"`
}

// GetUnlimitedQRCode はsceneを埋め込んだ小程序コードのPNG画像を取得する。
// PNGでないレスポンスはerrcode/errmsgのJSONとして解釈する。
func (c *Client) GetUnlimitedQRCode(ctx context.Context, accessToken, scene, page string) ([]byte, error) {
	payload, err := json.Marshal(qrCodeRequest{
		Scene:     scene,
		Page:      page,
		Width:     defaultQRCodeWidth,
		CheckPath: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode qrcode request: %w", err)
	}

	endpoint := c.config.BaseURL + "/wxa/getwxacodeunlimit?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create qrcode request: %w", redactURLError(err))
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("qrcode request failed: %w", err)
	}

	if bytes.HasPrefix(body, pngSignature) {
		return body, nil
	}

	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unexpected qrcode response: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("unexpected qrcode response without image")
}

// getJSON はGETリクエストを送信し、JSONレスポンスをoutにデコードする。
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", redactURLError(err))
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// do はリクエストを送信し、上限付きでレスポンスボディを読み込む。
// WeChat APIはエラー時もHTTP 200を返すため、200以外は通信エラーとして扱う。
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redactURLError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return body, nil
}

// redactURLError は通信エラーに含まれるリクエストURLからクエリを取り除く。
// クエリにはAppSecret、ログインコード、アクセストークンが含まれるため、ログに残さない。
func redactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	redacted := uerr.URL
	if u, perr := url.Parse(uerr.URL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		redacted = u.String()
	} else if i := strings.IndexByte(redacted, '?'); i >= 0 {
		redacted = redacted[:i]
	}
	return &url.Error{Op: uerr.Op, URL: redacted, Err: uerr.Err}
}

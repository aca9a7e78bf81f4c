// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EgressGuard はWeChat APIなど外部への送信先を検証し、安全なHTTPクライアントを生成する。
type EgressGuard interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、
	// メタデータIPへの接続をDialerレベルで拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateBaseURL は外部APIのベースURLを静的に検証する。
	// 起動時に設定値をチェックするために使用する。
	ValidateBaseURL(rawURL string) error
}

// egressSchemes は外部API呼び出しで許可するスキーム。
var egressSchemes = []string{"https"}

// deniedNetworks はベースURLに指定できないネットワーク範囲。
var deniedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in deniedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// egressGuard はEgressGuardの実装。
type egressGuard struct{}

// NewEgressGuard はEgressGuardを生成する。
func NewEgressGuard() EgressGuard {
	return egressGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// safeurlはDNS解決後のIPアドレスをnet.DialerのControlフックで検証するため、
// DNS再バインディングによる内部ネットワークへの到達も防止される。
func (egressGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(egressSchemes...).
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateBaseURL はベースURLのスキーム、ホスト、付加情報を検証する。
// クエリやフラグメント、認証情報を含むURLは拒否する。
func (egressGuard) ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty base URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !containsFold(egressSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, egressSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("base URL must not contain credentials")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("base URL must not contain query or fragment")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in base URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && isDeniedIP(ip) {
		return fmt.Errorf("blocked IP address: %s", ip)
	}

	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func isDeniedIP(ip net.IP) bool {
	for _, network := range deniedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

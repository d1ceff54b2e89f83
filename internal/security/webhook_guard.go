package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// WebhookGuard はWebhook送信先のSSRF対策を提供するインターフェース。
type WebhookGuard interface {
	// NewClient は内部ネットワーク宛ての接続を拒否するHTTPクライアントを生成する。
	// DNS解決後のIPアドレスもDialerで検証される。
	NewClient(timeout time.Duration) *http.Client

	// ValidateEndpoint は送信先URLを静的に検証する。設定読み込み時の事前チェックに使う。
	ValidateEndpoint(rawURL string) error
}

// allowedSchemes はWebhook送信先として許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedPorts はWebhook送信先として許可するポート。
var allowedPorts = []int{80, 443, 8443}

// blockedPrefixes は送信先として拒否するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIPを含む
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// blockedHostnames は送信先として拒否するホスト名。
var blockedHostnames = []string{"localhost", "metadata.google.internal"}

type webhookGuard struct{}

// NewWebhookGuard はWebhookGuardを生成する。
func NewWebhookGuard() *webhookGuard {
	return &webhookGuard{}
}

// NewClient はsafeurlでラップしたHTTPクライアントを返す。
func (g *webhookGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint は送信先URLのスキーム・ホスト・ポートを検証する。
func (g *webhookGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in webhook URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if port := parsed.Port(); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil || !contains(allowedPorts, p) {
			return fmt.Errorf("disallowed port: %s (allowed: %v)", port, allowedPorts)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if contains(blockedHostnames, strings.ToLower(host)) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ WebhookGuard = (*webhookGuard)(nil)

// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrInvalidMediaURL は共有リンクとして受け付けられないURLの場合のエラー。
var ErrInvalidMediaURL = errors.New("invalid media URL")

// MediaLinkGuard は投稿する共有リンクの検証機能のインターフェースを定義する。
type MediaLinkGuard interface {
	// ValidateMediaURL はURLの形式を事前に検証する。
	// http/httpsの絶対URLで、プライベートアドレスやlocalhostを指さないものだけを許可する。
	ValidateMediaURL(rawURL string) error

	// CheckReachable はリンク先が応答することを確認する。
	// 到達性チェックが無効な場合は何もしない。
	CheckReachable(ctx context.Context, rawURL string) error
}

// allowedSchemes は共有リンクで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は共有リンクの宛先として拒否するネットワーク範囲。
// 他のユーザーが開くリンクのため、内部ネットワークを指すものは受け付けない。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927)
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// mediaLinkGuard はMediaLinkGuardの実装。
type mediaLinkGuard struct {
	// client がnilの場合は到達性チェックを行わない。
	client *http.Client
}

// NewMediaLinkGuard はMediaLinkGuardの新しいインスタンスを生成する。
// checkReachable がtrueの場合、CheckReachableはSSRF防止付きクライアントでHEADリクエストを送る。
func NewMediaLinkGuard(checkReachable bool, timeout time.Duration) *mediaLinkGuard {
	g := &mediaLinkGuard{}
	if checkReachable {
		g.client = NewSafeClient(timeout)
	}
	return g
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlのデフォルト設定によりプライベート・ループバック・リンクローカルの各アドレスがブロックされる。
// DNS解決後のIPアドレスもDialerで検証される。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateMediaURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証を行う。
func (g *mediaLinkGuard) ValidateMediaURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidMediaURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMediaURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme %q (allowed: %v)", ErrInvalidMediaURL, scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidMediaURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address %s", ErrInvalidMediaURL, ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("%w: blocked host %s", ErrInvalidMediaURL, host)
	}

	return nil
}

// CheckReachable はリンク先にHEADリクエストを送り、400未満のステータスが返ることを確認する。
func (g *mediaLinkGuard) CheckReachable(ctx context.Context, rawURL string) error {
	if g.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMediaURL, err)
	}
	req.Header.Set("User-Agent", "OnTheMap/1.0 link check")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: link is unreachable: %v", ErrInvalidMediaURL, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: link returned status %d", ErrInvalidMediaURL, resp.StatusCode)
	}
	return nil
}

// IsShareableScheme はURLがhttp/httpsスキームを持つかを返す。
// 他のユーザーの投稿を表示する前のフィルタに使う。
func IsShareableScheme(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return isAllowedScheme(parsed.Scheme) && parsed.Host != ""
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
}

// isBlockedHostname はホスト名がブロック対象かを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}

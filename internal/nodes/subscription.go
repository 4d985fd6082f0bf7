package nodes

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/model"
)

// SubscriptionError reports a malformed Shadowsocks subscription line.
type SubscriptionError struct {
	AppError model.AppError
	Cause    error
}

func (e *SubscriptionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *SubscriptionError) Unwrap() error { return e.Cause }

// ssLink is one decoded ss:// URI.
type ssLink struct {
	name       string
	server     string
	port       int
	method     string
	password   string
	plugin     string
	pluginOpts string
}

// sing-box names the SIP003 obfs plugin differently from most subscriptions.
var pluginAliases = map[string]string{
	"simple-obfs": "obfs-local",
}

// ParseSubscription converts a raw or base64-encoded list of ss:// links into
// sing-box shadowsocks outbounds. Tags come from the #fragment (or
// server:port) and are made unique in input order: "HK", "HK-2", ...
func ParseSubscription(sourceURL, content string) ([]Node, error) {
	s := strings.TrimSpace(strings.TrimPrefix(content, "\uFEFF"))
	if s == "" {
		return nil, subscriptionError(sourceURL, 0, "", "订阅内容为空", "", nil)
	}

	if !strings.Contains(s, "ss://") {
		decoded, err := decodeB64(removeWhitespace(s))
		if err != nil {
			return nil, subscriptionError(sourceURL, 0, truncateSnippet(s), "订阅 base64 解码失败", "expected: ss:// lines or their base64 encoding", err)
		}
		if !utf8.Valid(decoded) {
			return nil, subscriptionError(sourceURL, 0, "", "订阅 base64 解码结果不是合法 UTF-8", "", nil)
		}
		s = strings.TrimSpace(strings.TrimPrefix(string(decoded), "\uFEFF"))
	}

	links := make([]ssLink, 0)
	for i, line := range strings.Split(s, "\n") {
		orig := line
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "ss://") {
			return nil, subscriptionError(sourceURL, i+1, truncateSnippet(orig), "仅支持 ss:// 协议", "expected: ss://...", nil)
		}
		l, err := parseSSLink(line)
		if err != nil {
			return nil, subscriptionError(sourceURL, i+1, truncateSnippet(orig), "ss 链接不合法", "", err)
		}
		links = append(links, l)
	}
	if len(links) == 0 {
		return nil, subscriptionError(sourceURL, 0, "", "订阅中没有任何可用节点", "", nil)
	}

	out := make([]Node, 0, len(links))
	used := make(map[string]struct{}, len(links))
	for _, l := range links {
		tag := uniqueTag(l, used)
		out = append(out, Node{Tag: tag, Server: l.server, Outbound: l.outbound(tag)})
	}
	return out, nil
}

func (l ssLink) outbound(tag string) *document.Object {
	o := document.NewObject(
		document.F("tag", tag),
		document.F("type", "shadowsocks"),
		document.F("server", l.server),
		document.F("server_port", l.port),
		document.F("method", l.method),
		document.F("password", l.password),
	)
	if l.plugin != "" {
		o.Set("plugin", l.plugin)
		if l.pluginOpts != "" {
			o.Set("plugin_opts", l.pluginOpts)
		}
	}
	return o
}

func uniqueTag(l ssLink, used map[string]struct{}) string {
	base := l.name
	if base == "" {
		base = net.JoinHostPort(l.server, strconv.Itoa(l.port))
	}
	tag := base
	for n := 2; ; n++ {
		if _, ok := used[tag]; !ok {
			break
		}
		tag = fmt.Sprintf("%s-%d", base, n)
	}
	used[tag] = struct{}{}
	return tag
}

// parseSSLink accepts SIP002 (ss://b64(method:password)@host:port/?plugin=...#name)
// and the legacy form (ss://b64(method:password@host:port)#name).
func parseSSLink(s string) (ssLink, error) {
	var l ssLink

	withoutFrag, frag, hasFrag := strings.Cut(s, "#")
	if hasFrag {
		name, err := url.PathUnescape(frag)
		if err != nil {
			return l, fmt.Errorf("decode name: %w", err)
		}
		l.name = strings.TrimSpace(name)
		if strings.ContainsAny(l.name, "\r\n\x00") {
			return l, errors.New("name contains control characters")
		}
	}

	withoutQuery, query, _ := strings.Cut(withoutFrag, "?")
	plugin, opts, err := parsePluginQuery(query)
	if err != nil {
		return l, err
	}
	l.plugin, l.pluginOpts = plugin, opts

	rest := strings.TrimPrefix(withoutQuery, "ss://")
	if rest == "" {
		return l, errors.New("empty link body")
	}

	var cred, hostPort string
	if userB64, hp, ok := strings.Cut(rest, "@"); ok {
		raw, err := decodeB64(userB64)
		if err != nil {
			return l, fmt.Errorf("decode userinfo: %w", err)
		}
		cred = string(raw)
		hostPort = strings.TrimSuffix(hp, "/")
		if strings.Contains(hostPort, "/") {
			return l, errors.New("path is not supported")
		}
	} else {
		raw, err := decodeB64(strings.TrimSuffix(rest, "/"))
		if err != nil {
			return l, fmt.Errorf("decode legacy body: %w", err)
		}
		decoded := string(raw)
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return l, errors.New("missing '@' in legacy body")
		}
		cred, hostPort = decoded[:at], decoded[at+1:]
	}

	if !utf8.ValidString(cred) {
		return l, errors.New("credentials are not valid utf-8")
	}
	method, password, ok := strings.Cut(cred, ":")
	l.method = strings.TrimSpace(method)
	l.password = strings.TrimSpace(password)
	if !ok || l.method == "" || l.password == "" {
		return l, errors.New("expected method:password")
	}
	if strings.ContainsAny(l.method+l.password, "\r\n\x00") {
		return l, errors.New("method or password contains control characters")
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return l, err
	}
	l.server = strings.TrimSpace(host)
	if l.server == "" {
		return l, errors.New("empty host")
	}
	l.port, err = strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return l, err
	}
	if l.port < 1 || l.port > 65535 {
		return l, errors.New("port out of range")
	}
	return l, nil
}

// parsePluginQuery only understands the "plugin" key. Its value is
// "name;k=v;k=v"; the options are passed through to sing-box unchanged.
func parsePluginQuery(query string) (string, string, error) {
	if query == "" {
		return "", "", nil
	}
	var plugin *string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return "", "", errors.New("query parameter must be key=value")
		}
		if k != "plugin" {
			return "", "", fmt.Errorf("unknown query parameter %q", k)
		}
		if plugin != nil {
			return "", "", errors.New("duplicate plugin parameter")
		}
		dec, err := url.PathUnescape(v)
		if err != nil {
			return "", "", err
		}
		plugin = &dec
	}
	if plugin == nil {
		return "", "", nil
	}

	name, opts, _ := strings.Cut(*plugin, ";")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errors.New("empty plugin name")
	}
	if alias, ok := pluginAliases[name]; ok {
		name = alias
	}
	return name, strings.TrimSpace(opts), nil
}

func decodeB64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func removeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func truncateSnippet(s string) string {
	s = strings.TrimRight(s, "\r")
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}

func subscriptionError(sourceURL string, lineNo int, snippet, message, hint string, cause error) error {
	return &SubscriptionError{
		AppError: model.AppError{
			Code:    "SUB_PARSE_ERROR",
			Message: message,
			Stage:   model.StageParseNodes,
			URL:     sourceURL,
			Line:    lineNo,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}

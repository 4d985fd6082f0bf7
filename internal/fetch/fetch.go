// Package fetch loads the text inputs of a generation: templates, node lists
// and locale catalogs, from http(s) URLs, local files or stdin.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/singbox-portmap/internal/model"
)

type Kind int

const (
	KindTemplate Kind = iota
	KindNodes
	KindLocale
)

func (k Kind) Stage() string {
	switch k {
	case KindTemplate:
		return "fetch_template"
	case KindNodes:
		return "fetch_nodes"
	case KindLocale:
		return "fetch_locale"
	default:
		return "fetch"
	}
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindTemplate:
		return 2 * 1024 * 1024
	case KindNodes:
		return 5 * 1024 * 1024
	case KindLocale:
		return 256 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5
}

func (o Options) withDefaults(k Kind) Options {
	if o.Timeout == 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = k.defaultMaxBytes()
	}
	return o
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// IsURL reports whether src should be fetched over HTTP rather than read
// from disk.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// ReadSource returns the text behind src: "-" reads stdin, http(s) URLs are
// fetched, anything else is a file path. The size and UTF-8 checks apply to
// all three.
func ReadSource(ctx context.Context, kind Kind, src string, stdin io.Reader, opt Options) (string, error) {
	opt = opt.withDefaults(kind)
	switch {
	case IsURL(src):
		return FetchTextWithOptions(ctx, kind, src, opt)
	case src == "-":
		if stdin == nil {
			stdin = os.Stdin
		}
		return readLimited(kind, "stdin", stdin, opt.MaxBytes)
	case strings.TrimSpace(src) == "":
		return "", newError(kind, src, http.StatusBadRequest, "INVALID_ARGUMENT", "未指定输入来源", nil)
	default:
		f, err := os.Open(src)
		if err != nil {
			return "", newError(kind, src, http.StatusBadRequest, "SOURCE_READ_FAILED", "读取本地文件失败", err)
		}
		defer f.Close()
		return readLimited(kind, src, f, opt.MaxBytes)
	}
}

func FetchText(ctx context.Context, kind Kind, rawURL string) (string, error) {
	return FetchTextWithOptions(ctx, kind, rawURL, Options{})
}

func FetchTextWithOptions(ctx context.Context, kind Kind, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults(kind)
	if opt.MaxBytes <= 0 {
		return "", newError(kind, rawURL, http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", newError(kind, rawURL, http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL",
			errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1.
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", newError(kind, rawURL, http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", newError(kind, rawURL, http.StatusBadGateway, "FETCH_FAILED",
				fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return "", newError(kind, rawURL, http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return "", newError(kind, rawURL, http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		default:
			return "", newError(kind, rawURL, http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newError(kind, rawURL, http.StatusBadGateway, "FETCH_FAILED",
			fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
	}
	return readLimited(kind, rawURL, resp.Body, opt.MaxBytes)
}

// readLimited reads at most maxBytes+1 to detect overflow deterministically.
func readLimited(kind Kind, src string, r io.Reader, maxBytes int64) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", newError(kind, src, http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		}
		return "", newError(kind, src, http.StatusBadGateway, "FETCH_FAILED", "读取内容失败", err)
	}
	if int64(len(body)) > maxBytes {
		return "", newError(kind, src, http.StatusUnprocessableEntity, "TOO_LARGE",
			fmt.Sprintf("内容过大（>%d bytes）", maxBytes), nil)
	}
	if !utf8.Valid(body) {
		return "", newError(kind, src, http.StatusUnprocessableEntity, "FETCH_INVALID_UTF8", "内容不是合法 UTF-8 文本", nil)
	}
	return string(body), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func newError(kind Kind, src string, status int, code, message string, cause error) error {
	return &FetchError{
		Status: status,
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   kind.Stage(),
			URL:     src,
		},
		Cause: cause,
	}
}

package nodes

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/singbox-portmap/internal/document"
)

func TestParseSubscription_RawList(t *testing.T) {
	raw := strings.Join([]string{
		"# comment",
		"  ",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201",
		"ss://YWVzLTEyOC1nY206cDI=@example.com:8389#Node%202",
		"",
	}, "\n")

	got, err := ParseSubscription("https://example.com/sub.txt", raw)
	require.NoError(t, err)
	require.Equal(t, []string{"Node 1", "Node 2"}, Tags(got))
	assert.Equal(t, "example.com", got[0].Server)

	out, err := document.Encode(got[0].Outbound)
	require.NoError(t, err)
	assert.Equal(t, `{
  "tag": "Node 1",
  "type": "shadowsocks",
  "server": "example.com",
  "server_port": 8388,
  "method": "aes-128-gcm",
  "password": "pass"
}
`, string(out))
}

func TestParseSubscription_Base64List(t *testing.T) {
	raw := "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201\n"
	b64 := base64.StdEncoding.EncodeToString([]byte(raw))

	got, err := ParseSubscription("", b64)
	require.NoError(t, err)
	require.Equal(t, []string{"Node 1"}, Tags(got))
}

func TestParseSubscription_LegacyForm(t *testing.T) {
	body := base64.RawURLEncoding.EncodeToString([]byte("chacha20-ietf-poly1305:p@ss@1.2.3.4:443"))
	got, err := ParseSubscription("", "ss://"+body+"#legacy")
	require.NoError(t, err)
	require.Len(t, got, 1)

	method, _ := document.StringAt(got[0].Outbound, "method")
	password, _ := document.StringAt(got[0].Outbound, "password")
	assert.Equal(t, "chacha20-ietf-poly1305", method)
	assert.Equal(t, "p@ss", password)
	assert.Equal(t, "1.2.3.4", got[0].Server)
}

func TestParseSubscription_Plugin(t *testing.T) {
	raw := "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388/?plugin=simple-obfs%3Bobfs%3Dtls%3Bobfs-host%3Dexample.com#obfs\n"
	got, err := ParseSubscription("", raw)
	require.NoError(t, err)

	plugin, _ := document.StringAt(got[0].Outbound, "plugin")
	opts, _ := document.StringAt(got[0].Outbound, "plugin_opts")
	assert.Equal(t, "obfs-local", plugin)
	assert.Equal(t, "obfs=tls;obfs-host=example.com", opts)
}

func TestParseSubscription_UniqueTags(t *testing.T) {
	raw := strings.Join([]string{
		"ss://YWVzLTEyOC1nY206cGFzcw==@a.example.com:1#HK",
		"ss://YWVzLTEyOC1nY206cGFzcw==@b.example.com:2#HK",
		"ss://YWVzLTEyOC1nY206cGFzcw==@c.example.com:3#HK",
		"ss://YWVzLTEyOC1nY206cGFzcw==@[::1]:8388",
	}, "\n")

	got, err := ParseSubscription("", raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"HK", "HK-2", "HK-3", "[::1]:8388"}, Tags(got))
	assert.Equal(t, "::1", got[3].Server)
}

func TestParseSubscription_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		line int
	}{
		{name: "empty", in: "  \n"},
		{name: "not base64", in: "%%%"},
		{name: "other scheme", in: "ss://YWVzLTEyOC1nY206cGFzcw==@a.example.com:1\nvmess://abc", line: 2},
		{name: "bad port", in: "ss://YWVzLTEyOC1nY206cGFzcw==@a.example.com:70000", line: 1},
		{name: "missing password", in: "ss://" + base64.StdEncoding.EncodeToString([]byte("aes-128-gcm")) + "@a.example.com:1", line: 1},
		{name: "unknown query", in: "ss://YWVzLTEyOC1nY206cGFzcw==@a.example.com:1/?foo=bar", line: 1},
		{name: "empty body", in: "ss://\n", line: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSubscription("https://example.com/sub", tc.in)
			var se *SubscriptionError
			require.True(t, errors.As(err, &se), "err=%T %v", err, err)
			assert.Equal(t, "SUB_PARSE_ERROR", se.AppError.Code)
			assert.Equal(t, tc.line, se.AppError.Line)
			assert.Equal(t, "https://example.com/sub", se.AppError.URL)
		})
	}
}

func TestParseText_DetectsSubscription(t *testing.T) {
	got, err := ParseText("", "ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#A\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, Tags(got))
}

func FuzzParseSubscription(f *testing.F) {
	for _, s := range []string{
		"",
		"# comment\nss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201\n",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388/?plugin=simple-obfs%3Bobfs%3Dtls#obfs\n",
		"ss://YWVzLTEyOC1nY206cGFzcw==@[::1]:8388#ipv6\n",
	} {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, content string) {
		got, err := ParseSubscription("", content)
		if err != nil {
			return
		}
		if len(got) == 0 {
			t.Fatalf("no nodes on nil error")
		}
		seen := map[string]bool{}
		for _, n := range got {
			if n.Tag == "" || n.Server == "" {
				t.Fatalf("empty tag or server: %+v", n)
			}
			if seen[n.Tag] {
				t.Fatalf("duplicate tag %q", n.Tag)
			}
			seen[n.Tag] = true
		}
	})
}

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveHealthzURL_FromListenAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:25600", "http://127.0.0.1:25600/healthz"},
		{"0.0.0.0:25600", "http://127.0.0.1:25600/healthz"},
		{"[::]:25600", "http://127.0.0.1:25600/healthz"},
		{":25600", "http://127.0.0.1:25600/healthz"},
		{"25600", "http://127.0.0.1:25600/healthz"},
		{"http://127.0.0.1:25600/", "http://127.0.0.1:25600/healthz"},
	}
	for _, tt := range tests {
		got, err := deriveHealthzURL(tt.in)
		if err != nil {
			t.Fatalf("deriveHealthzURL(%q) unexpected err: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("deriveHealthzURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunHealthcheck_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	defer ts.Close()

	if err := runHealthcheck(ts.URL+"/healthz", 200*time.Millisecond); err != nil {
		t.Fatalf("runHealthcheck unexpected err: %v", err)
	}
}

func TestRunHealthcheck_StatusNotOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := runHealthcheck(ts.URL, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "unexpected status") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "unexpected status")
	}
}


func TestDeriveHealthzURL_Invalid(t *testing.T) {
	for _, in := range []string{"", "  ", "host:"} {
		if _, err := deriveHealthzURL(in); err == nil {
			t.Fatalf("deriveHealthzURL(%q) expected error", in)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: singbox-portmap")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"convert"}, nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "convert"`)
}

func TestRunHealthcheckCmd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	}))
	defer ts.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"healthcheck", "-url", ts.URL + "/healthz"}, nil, &stdout, &stderr), stderr.String())
}

func TestGenerate_StdinToStdout(t *testing.T) {
	nodes := `[
		{"tag": "A", "type": "vless", "server": "a.example.com"},
		{"tag": "B", "type": "vless", "server": "b.example.com"},
		{"tag": "C", "type": "vless", "server": "203.0.113.5"}
	]`
	var stdout, stderr bytes.Buffer
	code := run([]string{"generate", "-nodes", "-", "-o", "-", "-start-port", "3000", "-port", "C=4000", "-default", "C"},
		strings.NewReader(nodes), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, `"listen_port": 3000`)
	assert.Contains(t, out, `"listen_port": 4000`)
	assert.Contains(t, out, `"final": "dns-C"`)
	assert.Contains(t, out, `"a.example.com",`)
	assert.NotContains(t, out, `"203.0.113.5",`)
}

func TestGenerate_FileOutput(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonc")
	outPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(nodesPath, []byte(`{"outbounds": [{"tag": "A"}, {"tag": "B"},]} // trailing`), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"generate", "-nodes", nodesPath, "-o", outPath}, nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tag": "in-2080"`)
	assert.Empty(t, stdout.String())
}

func TestGenerate_Errors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		in   string
		want string
	}{
		{name: "missing nodes flag", args: []string{"generate"}, want: "-nodes is required"},
		{name: "parse error", args: []string{"generate", "-nodes", "-", "-o", "-"}, in: `[{"tag": "A"`, want: "code=JSON_PARSE_ERROR"},
		{name: "duplicate port", args: []string{"generate", "-nodes", "-", "-o", "-", "-port", "B=2081"}, in: `[{"tag":"A"},{"tag":"B"},{"tag":"C"}]`, want: "code=PORT_DUPLICATE"},
		{name: "primary port", args: []string{"generate", "-nodes", "-", "-o", "-", "-port", "A=1"}, in: `[{"tag":"A"},{"tag":"B"}]`, want: "code=INVALID_ARGUMENT"},
		{name: "bad port flag", args: []string{"generate", "-nodes", "-", "-port", "B"}, want: "want TAG=PORT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tc.args, strings.NewReader(tc.in), &stdout, &stderr)
			assert.NotEqual(t, 0, code)
			assert.Contains(t, stderr.String(), tc.want)
			assert.Empty(t, stdout.String())
		})
	}
}

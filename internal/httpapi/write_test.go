package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/singbox-portmap/internal/model"
)

func TestWriteError_JSONShapeAndHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusUnprocessableEntity, model.AppError{
		Code:    "JSON_PARSE_ERROR",
		Message: "JSON 解析失败",
		Stage:   "parse_nodes",
		URL:     "https://example.com/nodes.json",
		Line:    3,
		Snippet: `{"tag" "b"}`,
		Hint:    "check line 3",
	})

	if got, want := rr.Code, http.StatusUnprocessableEntity; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}

	if got, want := rr.Header().Get("Content-Type"), "application/json; charset=utf-8"; got != want {
		t.Fatalf("Content-Type = %q, want %q", got, want)
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nbody=%q", err, rr.Body.String())
	}
	if resp.Error.Code != "JSON_PARSE_ERROR" {
		t.Fatalf("code = %q, want %q", resp.Error.Code, "JSON_PARSE_ERROR")
	}
	if resp.Error.Stage != "parse_nodes" {
		t.Fatalf("stage = %q, want %q", resp.Error.Stage, "parse_nodes")
	}
	if resp.Error.Line != 3 {
		t.Fatalf("line = %d, want %d", resp.Error.Line, 3)
	}
}

func TestWriteConfig_Attachment(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteConfig(rr, []byte("{}\n"), "config.json")

	if got, want := rr.Header().Get("Content-Type"), "application/json"; got != want {
		t.Fatalf("Content-Type = %q, want %q", got, want)
	}
	if got, want := rr.Header().Get("Content-Disposition"), `attachment; filename="config.json"; filename*=UTF-8''config.json`; got != want {
		t.Fatalf("Content-Disposition = %q, want %q", got, want)
	}
	if rr.Body.String() != "{}\n" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestWriteConfig_Inline(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteConfig(rr, []byte("{}\n"), "")
	if cd := rr.Header().Get("Content-Disposition"); cd != "" {
		t.Fatalf("Content-Disposition = %q, want empty", cd)
	}
}

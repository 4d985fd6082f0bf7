package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/samber/lo"

	"github.com/John-Robertt/singbox-portmap/internal/fetch"
	"github.com/John-Robertt/singbox-portmap/internal/model"
	"github.com/John-Robertt/singbox-portmap/internal/ports"
	"github.com/John-Robertt/singbox-portmap/internal/session"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

func notFound(r *http.Request) model.AppError {
	return model.AppError{Code: "NOT_FOUND", Message: "接口不存在", Stage: model.StageValidateRequest, Hint: r.Method + " " + r.URL.Path}
}

func methodNotAllowed(r *http.Request) model.AppError {
	return model.AppError{Code: "METHOD_NOT_ALLOWED", Message: "不支持的请求方法", Stage: model.StageValidateRequest, Hint: r.Method + " " + r.URL.Path}
}

func (a *api) handleLocale(w http.ResponseWriter, r *http.Request) {
	c := a.opt.Locales.Catalog(chi.URLParam(r, "lang"))
	w.Header().Set("Cache-Control", "no-store")
	render.JSON(w, r, c)
}

type nodesResponse struct {
	Ready bool          `json:"ready"`
	Nodes []session.Row `json:"nodes"`
}

// handleNodes takes raw node text as the body and returns the rows a client
// renders: tag, server, suggested port and default marker.
func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	s := a.newSession()
	if raw := r.URL.Query().Get("start_port"); raw != "" {
		start, err := parseStartPort(raw)
		if err != nil {
			a.writeErrorFromErr(w, r, err)
			return
		}
		s.SetStartPort(start)
	}

	body, err := a.readBody(w, r)
	if err != nil {
		a.writeErrorFromErr(w, r, err)
		return
	}
	if err := s.SetNodesText("", string(body)); err != nil {
		a.writeErrorFromErr(w, r, err)
		return
	}
	render.JSON(w, r, nodesResponse{Ready: s.Ready(), Nodes: s.Rows()})
}

type validatePortsRequest struct {
	Ports []string `json:"ports"`
}

type validatePortsResponse struct {
	ports.Result
	Flags []bool `json:"flags"`
}

func (a *api) handleValidatePorts(w http.ResponseWriter, r *http.Request) {
	var req validatePortsRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.writeErrorFromErr(w, r, err)
		return
	}
	res := ports.ValidateText(req.Ports)
	render.JSON(w, r, validatePortsResponse{Result: res, Flags: res.Flags(len(req.Ports))})
}

type generateRequest struct {
	// Nodes is either a JSON string holding node text or the node JSON
	// itself (an array, or an object with "outbounds").
	Nodes     json.RawMessage `json:"nodes"`
	NodesURL  string          `json:"nodes_url"`
	StartPort *int            `json:"start_port"`
	Ports     []string        `json:"ports"`
	Default   string          `json:"default"`
	Filename  string          `json:"filename"`
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if a.opt.TemplateErr != nil || a.opt.Template == nil {
		a.metrics.incGeneration(false)
		a.writeErrorFromErr(w, r, templateUnavailable(a.opt.TemplateErr))
		return
	}

	out, filename, err := a.generate(w, r)
	if err != nil {
		a.metrics.incGeneration(false)
		a.writeErrorFromErr(w, r, err)
		return
	}
	a.metrics.incGeneration(true)
	WriteConfig(w, out, filename)
}

func (a *api) generate(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(r.Context(), a.opt.RequestTimeout)
	defer cancel()

	var req generateRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		return nil, "", err
	}

	filename := ""
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		name, err := downloadName(lo.CoalesceOrEmpty(req.Filename, r.URL.Query().Get("filename")))
		if err != nil {
			return nil, "", err
		}
		filename = name
	}

	text, sourceURL, err := a.nodesText(ctx, req)
	if err != nil {
		return nil, "", err
	}

	s := a.newSession()
	if req.StartPort != nil {
		s.SetStartPort(*req.StartPort)
	}
	if err := s.SetNodesText(sourceURL, text); err != nil {
		return nil, "", err
	}
	if !s.Ready() {
		return nil, "", requestError("INVALID_ARGUMENT", "nodes 不能为空", `expected: "nodes" or "nodes_url"`)
	}
	if len(req.Ports) > 0 {
		if err := s.SetPorts(req.Ports); err != nil {
			return nil, "", err
		}
	}
	if req.Default != "" {
		if err := s.SetDefault(req.Default); err != nil {
			return nil, "", err
		}
	}

	out, err := s.Generate()
	if err != nil {
		return nil, "", err
	}
	return out, filename, nil
}

func (a *api) nodesText(ctx context.Context, req generateRequest) (string, string, error) {
	raw := bytes.TrimSpace(req.Nodes)
	hasInline := len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	nodesURL := strings.TrimSpace(req.NodesURL)

	switch {
	case hasInline && nodesURL != "":
		return "", "", requestError("INVALID_ARGUMENT", "nodes 与 nodes_url 只能二选一", "")
	case nodesURL != "":
		// Remote URLs only, never local files.
		text, err := fetch.FetchTextWithOptions(ctx, fetch.KindNodes, nodesURL, fetch.Options{Timeout: a.opt.FetchTimeout})
		return text, nodesURL, err
	case !hasInline:
		return "", "", nil
	case raw[0] == '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", "", requestError("INVALID_ARGUMENT", "nodes 字段不合法", err.Error())
		}
		return text, "", nil
	default:
		return string(raw), "", nil
	}
}

func (a *api) newSession() *session.Session {
	return session.New(a.opt.Template, a.opt.TemplateErr, a.opt.Synth)
}

func (a *api) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opt.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, apiError(http.StatusRequestEntityTooLarge, model.AppError{
				Code:    "TOO_LARGE",
				Message: "请求体过大",
				Stage:   model.StageValidateRequest,
			}, err)
		}
		return nil, requestError("INVALID_ARGUMENT", "读取请求体失败", err.Error())
	}
	return body, nil
}

func (a *api) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := a.readBody(w, r)
	if err != nil {
		return err
	}
	if err := render.DecodeJSON(bytes.NewReader(body), v); err != nil {
		return requestError("INVALID_ARGUMENT", "请求体不是合法 JSON", err.Error())
	}
	return nil
}

func parseStartPort(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < ports.MinPort || v > ports.MaxPort {
		return 0, requestError("INVALID_ARGUMENT", "start_port 必须是 1-65535 之间的整数", raw)
	}
	return v, nil
}

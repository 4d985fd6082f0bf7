// Package nodes extracts the ordered list of outbound nodes from user input.
package nodes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/jsonc"
	"github.com/John-Robertt/singbox-portmap/internal/model"
)

// Node is one user-supplied outbound. Outbound is the complete record as
// given; Tag and Server are read from it for wiring.
type Node struct {
	Tag      string
	Server   string
	Outbound *document.Object
}

type StructureError struct {
	AppError model.AppError
}

func (e *StructureError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
}

// ParseText accepts either relaxed JSON (an outbound array, or an object with
// an "outbounds" array) or a Shadowsocks subscription.
func ParseText(sourceURL, text string) ([]Node, error) {
	normalized := strings.TrimSpace(jsonc.Normalize(text))
	if normalized != "" && normalized[0] != '[' && normalized[0] != '{' {
		return ParseSubscription(sourceURL, text)
	}

	doc, err := jsonc.Parse(model.StageParseNodes, sourceURL, text)
	if err != nil {
		return nil, err
	}
	return Extract(doc)
}

// Extract picks the candidate sequence out of doc and keeps the entries that
// are objects with a truthy tag, in order.
func Extract(doc any) ([]Node, error) {
	var candidates []any
	switch v := doc.(type) {
	case []any:
		candidates = v
	case *document.Object:
		arr, ok := document.ArrayAt(v, "outbounds")
		if !ok {
			return nil, structureError("NODES_STRUCTURE_ERROR", "输入既不是数组，也不是包含 outbounds 数组的对象", `expected: [...] or {"outbounds": [...]}`)
		}
		candidates = arr
	default:
		return nil, structureError("NODES_STRUCTURE_ERROR", "输入既不是数组，也不是包含 outbounds 数组的对象", `expected: [...] or {"outbounds": [...]}`)
	}

	out := make([]Node, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		obj, ok := c.(*document.Object)
		if !ok || obj == nil {
			continue
		}
		raw, _ := obj.Get("tag")
		tag, ok := tagString(raw)
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			return nil, structureError("NODES_DUPLICATE_TAG", fmt.Sprintf("节点 tag 重复：%s", tag), "tag must be unique")
		}
		seen[tag] = struct{}{}

		server, _ := document.StringAt(obj, "server")
		out = append(out, Node{Tag: tag, Server: server, Outbound: obj})
	}

	if len(out) == 0 {
		return nil, structureError("NODES_EMPTY", "没有任何带 tag 的可用节点", "")
	}
	return out, nil
}

// tagString accepts the truthy scalar tags; composite values cannot name an
// outbound and are treated as missing.
func tagString(v any) (string, bool) {
	if !document.Truthy(v) {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return "true", true
	default:
		return "", false
	}
}

func structureError(code, message, hint string) error {
	return &StructureError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   model.StageExtractNodes,
			Hint:    hint,
		},
	}
}

// Tags returns the node tags in order.
func Tags(ns []Node) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Tag
	}
	return out
}

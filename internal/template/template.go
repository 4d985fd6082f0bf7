// Package template loads and validates the sing-box base template that every
// generation starts from.
package template

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/fetch"
	"github.com/John-Robertt/singbox-portmap/internal/jsonc"
	"github.com/John-Robertt/singbox-portmap/internal/model"
)

//go:embed default.jsonc
var defaultText string

// DefaultSource is the name reported for the embedded template.
const DefaultSource = "builtin:default.jsonc"

// Default returns the embedded template, already validated.
func Default() (*document.Object, error) {
	return Parse(DefaultSource, defaultText)
}

// Load resolves src (file path, http(s) URL, or "" for the embedded default)
// and returns the validated template.
func Load(ctx context.Context, src string, opt fetch.Options) (*document.Object, error) {
	if strings.TrimSpace(src) == "" {
		return Default()
	}
	text, err := fetch.ReadSource(ctx, fetch.KindTemplate, src, nil, opt)
	if err != nil {
		return nil, err
	}
	return Parse(src, text)
}

// Parse reads relaxed JSON text and checks the sections generation relies on:
// outbounds with direct and block, dns.servers, dns.rules and route.rules.
func Parse(sourceURL, text string) (*document.Object, error) {
	v, err := jsonc.Parse(model.StageParseTemplate, sourceURL, text)
	if err != nil {
		return nil, err
	}
	root, ok := v.(*document.Object)
	if !ok {
		return nil, invalid(sourceURL, "模板顶层必须是 JSON 对象", "", nil)
	}
	if err := validate(root); err != nil {
		return nil, invalid(sourceURL, "模板缺少必要字段", strings.ReplaceAll(err.Error(), "\n", "; "), err)
	}
	return root, nil
}

func validate(root *document.Object) error {
	var errs []error

	outbounds, ok := document.ArrayAt(root, "outbounds")
	if !ok {
		errs = append(errs, errors.New("outbounds must be an array"))
	} else {
		have := map[string]bool{}
		for _, o := range outbounds {
			if obj, ok := o.(*document.Object); ok {
				tag, _ := document.StringAt(obj, "tag")
				have[tag] = true
			}
		}
		for _, want := range []string{"direct", "block"} {
			if !have[want] {
				errs = append(errs, errors.New("outbounds must contain tag "+want))
			}
		}
	}

	dns, ok := document.ObjectAt(root, "dns")
	if !ok {
		errs = append(errs, errors.New("dns must be an object"))
	} else {
		if _, ok := document.ArrayAt(dns, "servers"); !ok {
			errs = append(errs, errors.New("dns.servers must be an array"))
		}
		if _, ok := document.ArrayAt(dns, "rules"); !ok {
			errs = append(errs, errors.New("dns.rules must be an array"))
		}
	}

	route, ok := document.ObjectAt(root, "route")
	if !ok {
		errs = append(errs, errors.New("route must be an object"))
	} else if _, ok := document.ArrayAt(route, "rules"); !ok {
		errs = append(errs, errors.New("route.rules must be an array"))
	}

	return errors.Join(errs...)
}

// Package synth builds the final sing-box configuration from a template, an
// ordered node list, per-node ports and a default node.
package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/model"
	"github.com/John-Robertt/singbox-portmap/internal/nodes"
	"github.com/John-Robertt/singbox-portmap/internal/ports"
)

const (
	localDNSTag   = "local_dns"
	blockDNSTag   = "block_dns"
	directTag     = "direct"
	blockTag      = "block"
	geositeCN     = "geosite-cn"
	globalMode    = "Global"
	dnsStrategy   = "prefer_ipv4"
	inboundType   = "mixed"
	inboundPrefix = "in-"
	dnsPrefix     = "dns-"
)

var ipv4Literal = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// Input is everything that varies between two generations.
// Ports[i] belongs to Nodes[i+1]; Nodes[0] is the primary node and has no
// dedicated inbound.
type Input struct {
	Nodes      []nodes.Node
	Ports      []int
	DefaultTag string
}

// Options tune the generated inbounds and per-node DNS servers. Zero values
// fall back to 127.0.0.1 and the Cloudflare DoH resolver.
type Options struct {
	InboundListen   string
	ResolverAddress string
}

func (o Options) withDefaults() Options {
	if o.InboundListen == "" {
		o.InboundListen = "127.0.0.1"
	}
	if o.ResolverAddress == "" {
		o.ResolverAddress = "https://1.1.1.1/dns-query"
	}
	return o
}

// SynthError reports a violated synthesis precondition (stage synthesize).
type SynthError struct {
	AppError model.AppError
	Cause    error
}

func (e *SynthError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *SynthError) Unwrap() error { return e.Cause }

// Synthesize returns a new document; tmpl and the node outbounds are only read.
func Synthesize(tmpl *document.Object, in Input, opt Options) (*document.Object, error) {
	opt = opt.withDefaults()

	if tmpl == nil {
		return nil, synthError("INVALID_ARGUMENT", "模板为空", "")
	}
	if len(in.Nodes) == 0 {
		return nil, synthError("INVALID_ARGUMENT", "节点列表为空", "")
	}
	if len(in.Ports) != len(in.Nodes)-1 {
		return nil, synthError("INVALID_ARGUMENT",
			fmt.Sprintf("端口数量（%d）与次要节点数量（%d）不一致", len(in.Ports), len(in.Nodes)-1), "")
	}
	if err := ports.Validate(in.Ports).Err(); err != nil {
		return nil, err
	}
	if !lo.ContainsBy(in.Nodes, func(n nodes.Node) bool { return n.Tag == in.DefaultTag }) {
		return nil, synthError("DEFAULT_NODE_UNKNOWN",
			fmt.Sprintf("默认节点不存在：%s", in.DefaultTag), "default must name one of the nodes")
	}

	cfg := document.CloneObject(tmpl)
	dns := ensureObject(cfg, "dns")
	route := ensureObject(cfg, "route")

	// Static sections survive; everything per node is regenerated below.
	dnsServers := filterObjects(arrayOf(dns, "servers"), func(o *document.Object) bool {
		tag, _ := document.StringAt(o, "tag")
		return tag == localDNSTag || tag == blockDNSTag
	})
	dnsRules := filterObjects(arrayOf(dns, "rules"), func(o *document.Object) bool {
		v, _ := o.Get("rule_set")
		return ruleSetIncludes(v, geositeCN)
	})
	routeRules := filterObjects(arrayOf(route, "rules"), func(o *document.Object) bool {
		return fieldTruthy(o, "rule_set") || fieldTruthy(o, "ip_is_private") || fieldTruthy(o, "clash_mode")
	})
	dns.Set("strategy", dnsStrategy)

	outbounds := make([]any, 0, len(in.Nodes)+2)
	for _, n := range in.Nodes {
		outbounds = append(outbounds, document.CloneObject(n.Outbound))
	}
	outbounds = append(outbounds, filterObjects(arrayOf(cfg, "outbounds"), func(o *document.Object) bool {
		tag, _ := document.StringAt(o, "tag")
		return tag == directTag || tag == blockTag
	})...)
	cfg.Set("outbounds", outbounds)

	// Proxy hostnames must be resolved locally or the tunnels can never come up.
	if hosts := exemptHosts(in.Nodes); len(hosts) > 0 {
		dnsRules = append([]any{document.NewObject(
			document.F("domain", lo.ToAnySlice(hosts)),
			document.F("server", localDNSTag),
		)}, dnsRules...)
	}

	var (
		inbounds      = make([]any, 0, len(in.Ports))
		newServers    = make([]any, 0, len(in.Ports))
		newRouteRules = make([]any, 0, len(in.Ports))
		defaultDNS    string
	)
	for i, n := range in.Nodes[1:] {
		port := in.Ports[i]
		inTag := fmt.Sprintf("%s%d", inboundPrefix, port)
		dnsTag := dnsPrefix + n.Tag

		inbounds = append(inbounds, document.NewObject(
			document.F("type", inboundType),
			document.F("tag", inTag),
			document.F("listen", opt.InboundListen),
			document.F("listen_port", port),
		))
		// Later nodes end up first, like repeated prepends.
		newServers = append([]any{document.NewObject(
			document.F("tag", dnsTag),
			document.F("address", opt.ResolverAddress),
			document.F("strategy", dnsStrategy),
			document.F("detour", n.Tag),
		)}, newServers...)
		dnsRules = append(dnsRules, document.NewObject(
			document.F("inbound", inTag),
			document.F("server", dnsTag),
		))
		newRouteRules = append([]any{document.NewObject(
			document.F("inbound", inTag),
			document.F("outbound", n.Tag),
		)}, newRouteRules...)

		if n.Tag == in.DefaultTag {
			defaultDNS = dnsTag
		}
	}
	routeRules = append(newRouteRules, routeRules...)

	for _, r := range routeRules {
		o, ok := r.(*document.Object)
		if !ok {
			continue
		}
		if mode, _ := document.StringAt(o, "clash_mode"); mode == globalMode {
			o.Set("outbound", in.DefaultTag)
		}
	}

	cfg.Set("inbounds", inbounds)
	dns.Set("servers", append(newServers, dnsServers...))
	dns.Set("rules", dnsRules)
	// Empty when the primary node is the default: it has no dns-<tag> server.
	dns.Set("final", defaultDNS)
	route.Set("rules", routeRules)
	route.Set("final", in.DefaultTag)
	return cfg, nil
}

// Marshal renders a synthesized document as config.json bytes.
func Marshal(cfg *document.Object) ([]byte, error) {
	return document.Encode(cfg)
}

// exemptHosts lists distinct node servers that are not IP literals, in
// first-seen order.
func exemptHosts(ns []nodes.Node) []string {
	servers := lo.FilterMap(ns, func(n nodes.Node, _ int) (string, bool) {
		return n.Server, n.Server != "" && !isIPLiteral(n.Server)
	})
	return lo.Uniq(servers)
}

// isIPLiteral only recognizes dotted-quad IPv4; every other server string
// (IPv6 included) gets an exemption entry.
func isIPLiteral(s string) bool {
	return ipv4Literal.MatchString(s)
}

func ruleSetIncludes(v any, name string) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, name)
	case []any:
		return lo.Contains(t, any(name))
	default:
		return false
	}
}

func fieldTruthy(o *document.Object, key string) bool {
	v, _ := o.Get(key)
	return document.Truthy(v)
}

func filterObjects(items []any, keep func(*document.Object) bool) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		o, ok := it.(*document.Object)
		if ok && o != nil && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func ensureObject(parent *document.Object, key string) *document.Object {
	if o, ok := document.ObjectAt(parent, key); ok {
		return o
	}
	o := document.NewObject()
	parent.Set(key, o)
	return o
}

func arrayOf(o *document.Object, key string) []any {
	arr, _ := document.ArrayAt(o, key)
	return arr
}

func synthError(code, message, hint string) error {
	return &SynthError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   model.StageSynthesize,
			Hint:    hint,
		},
	}
}

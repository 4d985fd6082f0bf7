// Package session keeps the current node list, port assignment and default
// selection between edits and turns them into a generation request.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/model"
	"github.com/John-Robertt/singbox-portmap/internal/nodes"
	"github.com/John-Robertt/singbox-portmap/internal/ports"
	"github.com/John-Robertt/singbox-portmap/internal/synth"
)

const DefaultStartPort = 2080

// ErrTemplateUnavailable is returned by Generate when the template could not
// be loaded. Nothing can be generated until the process restarts.
var ErrTemplateUnavailable = errors.New("template unavailable")

type Row struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Server  string `json:"server,omitempty"`
	Port    string `json:"port,omitempty"`
	Default bool   `json:"default"`
	Primary bool   `json:"primary"`
	Flagged bool   `json:"flagged,omitempty"`
}

type Session struct {
	tmpl    *document.Object
	tmplErr error
	opt     synth.Options

	startPort  int
	nodes      []nodes.Node
	ports      []string // ports[i] belongs to nodes[i+1]
	defaultTag string
	flags      []bool
}

// New starts an empty session. A non-nil tmplErr makes the session
// permanently unable to generate.
func New(tmpl *document.Object, tmplErr error, opt synth.Options) *Session {
	if tmpl == nil && tmplErr == nil {
		tmplErr = errors.New("no template")
	}
	return &Session{tmpl: tmpl, tmplErr: tmplErr, opt: opt, startPort: DefaultStartPort}
}

// Reset drops the node list and everything derived from it.
func (s *Session) Reset() {
	s.nodes = nil
	s.ports = nil
	s.flags = nil
	s.defaultTag = ""
}

// SetNodesText replaces the node list. Blank text resets silently; parse and
// structure errors reset and are returned.
func (s *Session) SetNodesText(sourceURL, text string) error {
	if strings.TrimSpace(text) == "" {
		s.Reset()
		return nil
	}
	ns, err := nodes.ParseText(sourceURL, text)
	if err != nil {
		s.Reset()
		return err
	}
	s.SetNodes(ns)
	return nil
}

// SetNodes installs an already extracted list with sequential ports and the
// primary node as default.
func (s *Session) SetNodes(ns []nodes.Node) {
	s.nodes = ns
	s.defaultTag = ""
	if len(ns) > 0 {
		s.defaultTag = ns[0].Tag
	}
	s.assignSequential()
}

// SetStartPort renumbers every secondary node from start.
func (s *Session) SetStartPort(start int) {
	s.startPort = start
	s.assignSequential()
}

func (s *Session) assignSequential() {
	n := len(s.nodes) - 1
	seq := ports.Sequential(s.startPort, n)
	s.ports = make([]string, len(seq))
	for i, p := range seq {
		s.ports[i] = strconv.Itoa(p)
	}
	s.flags = nil
}

// SetPort overrides the port text of node index (1-based among all nodes;
// the primary node has no port).
func (s *Session) SetPort(index int, raw string) error {
	if index < 1 || index >= len(s.nodes) {
		return requestError(fmt.Sprintf("节点序号超出范围：%d", index))
	}
	s.ports[index-1] = raw
	s.flags = nil
	return nil
}

// SetPortFor is SetPort addressed by tag.
func (s *Session) SetPortFor(tag, raw string) error {
	for i, n := range s.nodes {
		if n.Tag != tag {
			continue
		}
		if i == 0 {
			return requestError(fmt.Sprintf("主节点没有独立端口：%s", tag))
		}
		return s.SetPort(i, raw)
	}
	return requestError(fmt.Sprintf("节点不存在：%s", tag))
}

// SetPorts replaces all secondary port texts at once.
func (s *Session) SetPorts(raw []string) error {
	if len(raw) != len(s.ports) {
		return requestError(fmt.Sprintf("端口数量（%d）与次要节点数量（%d）不一致", len(raw), len(s.ports)))
	}
	copy(s.ports, raw)
	s.flags = nil
	return nil
}

func (s *Session) SetDefault(tag string) error {
	for _, n := range s.nodes {
		if n.Tag == tag {
			s.defaultTag = tag
			return nil
		}
	}
	return requestError(fmt.Sprintf("默认节点不存在：%s", tag))
}

// Nodes returns the current node list.
func (s *Session) Nodes() []nodes.Node { return s.nodes }

func (s *Session) DefaultTag() string { return s.defaultTag }

// Ready reports whether Generate can be attempted at all.
func (s *Session) Ready() bool {
	return s.tmplErr == nil && len(s.nodes) > 0
}

// ValidatePorts checks the current port texts and refreshes the row flags.
func (s *Session) ValidatePorts() ports.Result {
	res := ports.ValidateText(s.ports)
	s.flags = res.Flags(len(s.ports))
	return res
}

func (s *Session) Rows() []Row {
	rows := make([]Row, len(s.nodes))
	for i, n := range s.nodes {
		rows[i] = Row{
			Index:   i,
			Tag:     n.Tag,
			Server:  n.Server,
			Default: n.Tag == s.defaultTag,
			Primary: i == 0,
		}
		if i > 0 {
			rows[i].Port = s.ports[i-1]
			if i-1 < len(s.flags) {
				rows[i].Flagged = s.flags[i-1]
			}
		}
	}
	return rows
}

// Generate validates the current state and renders config.json. A port
// error keeps the node list and flags the offending rows.
func (s *Session) Generate() ([]byte, error) {
	if s.tmplErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateUnavailable, s.tmplErr)
	}
	if len(s.nodes) == 0 {
		return nil, requestError("尚未加载任何节点")
	}

	res := s.ValidatePorts()
	if err := res.Err(); err != nil {
		return nil, err
	}
	values := make([]int, len(s.ports))
	for i, p := range s.ports {
		values[i], _ = strconv.Atoi(strings.TrimSpace(p))
	}

	cfg, err := synth.Synthesize(s.tmpl, synth.Input{
		Nodes:      s.nodes,
		Ports:      values,
		DefaultTag: s.defaultTag,
	}, s.opt)
	if err != nil {
		return nil, err
	}
	return synth.Marshal(cfg)
}

type RequestError struct {
	AppError model.AppError
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
}

func requestError(message string) error {
	return &RequestError{AppError: model.AppError{
		Code:    "INVALID_ARGUMENT",
		Message: message,
		Stage:   model.StageValidateRequest,
	}}
}

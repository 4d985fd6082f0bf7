package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/singbox-portmap/internal/fetch"
	"github.com/John-Robertt/singbox-portmap/internal/httpapi"
	"github.com/John-Robertt/singbox-portmap/internal/logging"
	"github.com/John-Robertt/singbox-portmap/internal/session"
	"github.com/John-Robertt/singbox-portmap/internal/synth"
	"github.com/John-Robertt/singbox-portmap/internal/template"
)

// portOverrides collects repeated -port TAG=PORT flags in order.
type portOverrides []portOverride

type portOverride struct {
	tag  string
	port string
}

func (p *portOverrides) String() string {
	parts := make([]string, len(*p))
	for i, o := range *p {
		parts[i] = o.tag + "=" + o.port
	}
	return strings.Join(parts, ",")
}

func (p *portOverrides) Set(s string) error {
	i := strings.LastIndexByte(s, '=')
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("want TAG=PORT, got %q", s)
	}
	*p = append(*p, portOverride{tag: s[:i], port: s[i+1:]})
	return nil
}

func runGenerate(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	nodesSrc := fs.String("nodes", "", "节点来源：本地文件、- (stdin) 或 http(s) URL")
	templateSrc := fs.String("template", "", "模板来源：本地文件或 http(s) URL，留空使用内置模板")
	startPort := fs.Int("start-port", session.DefaultStartPort, "次要节点的起始端口")
	var overrides portOverrides
	fs.Var(&overrides, "port", "单独指定节点端口，格式 TAG=PORT，可重复")
	defaultTag := fs.String("default", "", "默认节点 tag（默认第一个节点）")
	out := fs.String("o", "config.json", "输出文件，- 表示 stdout")
	inboundListen := fs.String("inbound-listen", "127.0.0.1", "生成的 mixed 入站监听地址")
	resolver := fs.String("resolver", "https://1.1.1.1/dns-query", "每个节点专属 DNS 服务器地址")
	fetchTimeout := fs.Duration("fetch-timeout", 15*time.Second, "单次远程拉取的超时")
	logLevel := logging.WARNING
	fs.Var(&logLevel, "log-level", "日志级别：debug|info|warning|error|silent")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*nodesSrc) == "" {
		fmt.Fprintln(stderr, "generate: -nodes is required")
		fs.Usage()
		return 2
	}

	log, err := logging.New(logging.Options{Level: logLevel, Output: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "generate: %v\n", err)
		return 2
	}

	ctx := context.Background()
	fetchOpt := fetch.Options{Timeout: *fetchTimeout}

	tmpl, err := template.Load(ctx, *templateSrc, fetchOpt)
	if err != nil {
		reportError(log, err)
		return 1
	}
	text, err := fetch.ReadSource(ctx, fetch.KindNodes, *nodesSrc, stdin, fetchOpt)
	if err != nil {
		reportError(log, err)
		return 1
	}

	s := session.New(tmpl, nil, synth.Options{InboundListen: *inboundListen, ResolverAddress: *resolver})
	s.SetStartPort(*startPort)
	sourceURL := ""
	if fetch.IsURL(*nodesSrc) {
		sourceURL = *nodesSrc
	}
	if err := s.SetNodesText(sourceURL, text); err != nil {
		reportError(log, err)
		return 1
	}
	if !s.Ready() {
		fmt.Fprintln(stderr, "generate: node input is empty")
		return 1
	}
	for _, o := range overrides {
		if err := s.SetPortFor(o.tag, o.port); err != nil {
			reportError(log, err)
			return 1
		}
	}
	if *defaultTag != "" {
		if err := s.SetDefault(*defaultTag); err != nil {
			reportError(log, err)
			return 1
		}
	}

	cfg, err := s.Generate()
	if err != nil {
		if res := s.ValidatePorts(); !res.Valid {
			for _, row := range s.Rows() {
				if row.Flagged {
					log.WithField("tag", row.Tag).WithField("port", row.Port).Error("port rejected")
				}
			}
		}
		reportError(log, err)
		return 1
	}

	if *out == "-" {
		_, err = stdout.Write(cfg)
	} else {
		err = os.WriteFile(*out, cfg, 0o644)
	}
	if err != nil {
		log.WithError(err).Error("write output")
		return 1
	}

	for _, row := range s.Rows() {
		fields := logrus.Fields{"tag": row.Tag, "default": row.Default}
		if row.Primary {
			fields["port"] = "-"
		} else {
			fields["port"] = row.Port
		}
		log.WithFields(fields).Info("node")
	}
	if *out != "-" {
		log.WithField("nodes", len(s.Nodes())).Infof("wrote %s", *out)
	}
	return 0
}

// reportError prints the stage error the same way the HTTP API would
// classify it.
func reportError(log logrus.FieldLogger, err error) {
	_, app := httpapi.Classify(err)
	entry := log.WithField("code", app.Code).WithField("stage", app.Stage)
	if app.URL != "" {
		entry = entry.WithField("url", app.URL)
	}
	if app.Line > 0 {
		entry = entry.WithField("line", app.Line)
	}
	if app.Snippet != "" {
		entry = entry.WithField("snippet", app.Snippet)
	}
	if app.Hint != "" {
		entry = entry.WithField("hint", app.Hint)
	}
	entry.Error(app.Message)
}

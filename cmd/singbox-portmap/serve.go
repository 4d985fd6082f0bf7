package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/John-Robertt/singbox-portmap/internal/fetch"
	"github.com/John-Robertt/singbox-portmap/internal/httpapi"
	"github.com/John-Robertt/singbox-portmap/internal/i18n"
	"github.com/John-Robertt/singbox-portmap/internal/logging"
	"github.com/John-Robertt/singbox-portmap/internal/synth"
	"github.com/John-Robertt/singbox-portmap/internal/template"
)

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:25600", "HTTP 监听地址")
	templateSrc := fs.String("template", "", "模板来源：本地文件或 http(s) URL，留空使用内置模板")
	localesURL := fs.String("locales", "", "语言文件目录 URL（<url>/en.yml、<url>/zh.yml），留空使用内置文案")
	inboundListen := fs.String("inbound-listen", "127.0.0.1", "生成的 mixed 入站监听地址")
	resolver := fs.String("resolver", "https://1.1.1.1/dns-query", "每个节点专属 DNS 服务器地址")
	logLevel := logging.INFO
	fs.Var(&logLevel, "log-level", "日志级别：debug|info|warning|error|silent")
	logFormat := fs.String("log-format", "text", "日志格式：text|json")
	readHeaderTimeout := fs.Duration("read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	requestTimeout := fs.Duration("request-timeout", 30*time.Second, "单次请求的总超时（包含远程拉取）")
	fetchTimeout := fs.Duration("fetch-timeout", 15*time.Second, "单次远程拉取的超时")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log, err := logging.New(logging.Options{Level: logLevel, Format: *logFormat, Output: stderr})
	if err != nil {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetchOpt := fetch.Options{Timeout: *fetchTimeout}

	// A broken template only disables generation; the rest of the API stays up.
	tmpl, tmplErr := template.Load(ctx, *templateSrc, fetchOpt)
	if tmplErr != nil {
		log.WithError(tmplErr).WithField("template", *templateSrc).Error("template unavailable, generation disabled")
	} else {
		log.WithField("template", templateName(*templateSrc)).Info("template loaded")
	}

	locales, err := i18n.New()
	if err != nil {
		log.WithError(err).Error("load locales")
		return 1
	}
	if *localesURL != "" {
		locales.LoadOverrides(ctx, *localesURL, fetchOpt, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, err := httpapi.NewHandler(httpapi.Options{
		Template:       tmpl,
		TemplateErr:    tmplErr,
		Locales:        locales,
		Synth:          synth.Options{InboundListen: *inboundListen, ResolverAddress: *resolver},
		RequestTimeout: *requestTimeout,
		FetchTimeout:   *fetchTimeout,
		Logger:         log,
		Registry:       reg,
	})
	if err != nil {
		log.WithError(err).Error("build handler")
		return 1
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
	}

	log.Infof("listening on http://%s", *listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			return 1
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			return 1
		}
	}
	return 0
}

func templateName(src string) string {
	if src == "" {
		return template.DefaultSource
	}
	return src
}

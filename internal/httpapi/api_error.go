package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/singbox-portmap/internal/fetch"
	"github.com/John-Robertt/singbox-portmap/internal/i18n"
	"github.com/John-Robertt/singbox-portmap/internal/jsonc"
	"github.com/John-Robertt/singbox-portmap/internal/model"
	"github.com/John-Robertt/singbox-portmap/internal/nodes"
	"github.com/John-Robertt/singbox-portmap/internal/ports"
	"github.com/John-Robertt/singbox-portmap/internal/session"
	"github.com/John-Robertt/singbox-portmap/internal/synth"
	"github.com/John-Robertt/singbox-portmap/internal/template"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   model.StageValidateRequest,
		Hint:    hint,
	}, nil)
}

func templateUnavailable(cause error) error {
	return apiError(http.StatusServiceUnavailable, model.AppError{
		Code:    "TEMPLATE_UNAVAILABLE",
		Message: "配置模板不可用，生成功能已禁用",
		Stage:   "load_template",
	}, cause)
}

// Classify maps an error to its HTTP status and payload. Content errors
// (bad node text, bad ports, bad template) are 422.
func Classify(err error) (int, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError
	}
	if errors.Is(err, session.ErrTemplateUnavailable) {
		return Classify(templateUnavailable(err))
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.Status, fe.AppError
	}

	var re *session.RequestError
	if errors.As(err, &re) {
		return http.StatusBadRequest, re.AppError
	}

	var pe *jsonc.ParseError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity, pe.AppError
	}
	var sube *nodes.SubscriptionError
	if errors.As(err, &sube) {
		return http.StatusUnprocessableEntity, sube.AppError
	}
	var se *nodes.StructureError
	if errors.As(err, &se) {
		return http.StatusUnprocessableEntity, se.AppError
	}
	var porte *ports.PortError
	if errors.As(err, &porte) {
		return http.StatusUnprocessableEntity, porte.AppError
	}
	var syne *synth.SynthError
	if errors.As(err, &syne) {
		return http.StatusUnprocessableEntity, syne.AppError
	}
	var te *template.TemplateError
	if errors.As(err, &te) {
		return http.StatusUnprocessableEntity, te.AppError
	}

	// Fallback: internal bug.
	return http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	}
}

// localize swaps in the catalog message for the code. The detailed message
// is kept as the hint when there is none.
func localize(app model.AppError, c *i18n.Catalog) model.AppError {
	msg := c.Message(app.Code, app.Message)
	if msg != app.Message {
		if app.Hint == "" {
			app.Hint = app.Message
		}
		app.Message = msg
	}
	return app
}

func (a *api) writeErrorFromErr(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	status, app := Classify(err)
	a.metrics.incAppError(app.Stage, app.Code)
	if status >= http.StatusInternalServerError {
		a.opt.Logger.WithError(err).WithField("code", app.Code).Error("request failed")
	}
	WriteError(w, status, localize(app, a.catalog(r)))
}

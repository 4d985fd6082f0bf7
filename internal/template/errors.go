package template

import (
	"fmt"

	"github.com/John-Robertt/singbox-portmap/internal/model"
)

// TemplateError reports a template that parsed but lacks the sections
// generation rewrites (outbounds with direct/block, dns.servers, dns.rules,
// route.rules). Hint lists the individual problems separated by "; ".
type TemplateError struct {
	AppError model.AppError
	Cause    error
}

func (e *TemplateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

func invalid(sourceURL, message, hint string, cause error) error {
	return &TemplateError{
		AppError: model.AppError{
			Code:    "TEMPLATE_INVALID",
			Message: message,
			Stage:   model.StageValidateTemplate,
			URL:     sourceURL,
			Hint:    hint,
		},
		Cause: cause,
	}
}

// Package validation validates operator-supplied scan requests before they
// reach the orchestrator.
package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateScanRequest checks structural validity of a scan request. Range
// checks on nested configs happen in ScanRequest.Normalize; this layer
// rejects the shapes a decoder can produce from malformed payloads.
func ValidateScanRequest(request *scan.ScanRequest) error {
	if request == nil {
		return errs.NewInvalidRequestError("request body is required")
	}
	if err := validate.Struct(request); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return errs.Newf(errs.ErrorTypeInvalidRequest, "invalid request fields: %s", strings.Join(fields, ", "))
		}
		return errs.Wrap(err, errs.ErrorTypeInvalidRequest, "invalid request")
	}
	for _, table := range request.TargetTables {
		if err := validateTableName(table); err != nil {
			return err
		}
	}
	return nil
}

// validateTableName rejects table filters that could not name a real table.
func validateTableName(name string) error {
	if name == "" {
		return errs.NewInvalidRequestError("target table name must not be empty")
	}
	if len(name) > 128 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "target table name %q exceeds 128 characters", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '$':
		default:
			return errs.Newf(errs.ErrorTypeInvalidRequest, "target table name %q contains invalid character %q", name, r)
		}
	}
	return nil
}

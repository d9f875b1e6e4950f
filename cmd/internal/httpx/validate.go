package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator for REST request bodies. Errors are reported with JSON
// field names.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() != reflect.String {
			return true
		}
		return strings.TrimSpace(f.String()) != ""
	})
	return v
}

// DecodeAndValidate decodes one JSON object into dst and runs struct validation on it.
// The returned error is suitable as a 400 message.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if err := DecodeJSON(w, r, maxBytes, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := Validate.Struct(dst); err != nil {
		return errors.New(ValidationMessage(err))
	}
	return nil
}

// ValidationMessage flattens validator errors into "field: rule" pairs, sorted by field.
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:]+": "+rule)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, ", ")
}

// Package validate holds the input rules applied to untrusted free text
// before it can reach a generated artifact or a backend call.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/rampartlabs/rampart/internal/domain"
)

// MaxTextLen is the hard length cap for any single untrusted field.
const MaxTextLen = 1024

var v *validator.Validate

func init() {
	v = validator.New()
	_ = v.RegisterValidation("nocontrol", noControl)
	v.RegisterAlias("untrusted", "required,max=1024,nocontrol")
}

// UntrustedText checks one free-text field: non-empty, at most MaxTextLen
// characters, no control characters. Rejection is a *domain.ValidationError;
// nothing is ever stripped or coerced.
func UntrustedText(field, value string) error {
	if value == "" {
		return domain.NewValidationError(field, "must not be empty")
	}
	if utf8.RuneCountInString(value) > MaxTextLen {
		return domain.NewValidationError(field, fmt.Sprintf("exceeds %d characters", MaxTextLen))
	}
	for i := 0; i < len(value); i++ {
		if c := value[i]; c <= 0x1f || c == 0x7f {
			return domain.NewValidationError(field, fmt.Sprintf("contains control character 0x%02x at byte %d", c, i))
		}
	}
	return nil
}

// Struct runs tag-based validation and converts the first failure into a
// *domain.ValidationError.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fmt.Sprintf("failed %q", fe.Tag())
		if fe.Param() != "" {
			reason = fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param())
		}
		return domain.NewValidationError(strings.ToLower(fe.Field()), reason)
	}
	return err
}

func noControl(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for i := 0; i < len(s); i++ {
		if s[i] <= 0x1f || s[i] == 0x7f {
			return false
		}
	}
	return true
}

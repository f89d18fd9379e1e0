package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

func newValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return validator.New()
	}
	return v
}

// validationError flattens validator output into a single VALIDATION_ERROR.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return appErrors.Clone(appErrors.ErrValidation, strings.Join(parts, "; "))
}

func bindJSON(c *gin.Context, v *validator.Validate, dest interface{}) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid request payload")
	}
	if err := v.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func bindQuery(c *gin.Context, v *validator.Validate, dest interface{}) error {
	if err := c.ShouldBindQuery(dest); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid query parameters")
	}
	if err := v.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

package api

import (
	"errors"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Xero account codes are up to 10 alphanumeric characters
var accountCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)

func validateAccountCode(fl validator.FieldLevel) bool {
	return accountCodePattern.MatchString(fl.Field().String())
}

// RegisterValidators adds the custom binding rules used by request bodies
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	return v.RegisterValidation("accountcode", validateAccountCode)
}

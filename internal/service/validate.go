package service

import (
	"net/url"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// IsValidURL reports whether s is an absolute URL with both a scheme and a host.
func IsValidURL(s string) bool {
	if err := validate.Var(s, "required,url"); err != nil {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// IsValidCustomCode reports whether s is 6 to 8 ASCII letters or digits.
func IsValidCustomCode(s string) bool {
	return validate.Var(s, "required,alphanum,min=6,max=8") == nil
}

package httpserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// addQueryRequest is the /add_query form payload.
type addQueryRequest struct {
	Query     string `validate:"required,url,max=2000"`
	QueryName string `validate:"omitempty,max=200"`
	ThreadID  string `validate:"omitempty,number"`
}

// editQueryRequest is the /edit_query/{id} form payload.
type editQueryRequest struct {
	Query     string `validate:"required,url,max=2000"`
	QueryName string `validate:"omitempty,max=200"`
}

// threadIDRequest is the /update_thread_id form payload.
type threadIDRequest struct {
	QueryID  string `validate:"required,number"`
	ThreadID string `validate:"omitempty,number"`
}

// configUpdateRequest is one key/value pair of /update_config.
type configUpdateRequest struct {
	Key   string `validate:"required,max=100"`
	Value string `validate:"max=10000"`
}

// countryRequest is the allowlist mutation payload.
type countryRequest struct {
	Country string `validate:"required,alpha,len=2"`
}

// checkRequest validates a payload struct and converts the first violation
// into an ErrInvalidArgument the response writer understands.
func checkRequest(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %s", domain.ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}

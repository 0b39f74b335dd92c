package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type orderPayload struct {
	Service  int64  `json:"service" validate:"required,gt=0"`
	Link     string `json:"link" validate:"required,url"`
	Quantity int64  `json:"quantity" validate:"required,gte=1"`
}

type paymentPayload struct {
	Amount        decimal.Decimal `json:"amount" validate:"dgte=1"`
	Method        string          `json:"method" validate:"required,oneof=bkash nagad rocket"`
	TransactionID string          `json:"transaction_id" validate:"required"`
}

type syncPayload struct {
	FirebaseUID string `json:"firebase_uid"`
	Email       string `json:"email" validate:"omitempty,email"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

type topUpPayload struct {
	Email  string          `json:"email" validate:"required,email"`
	Amount decimal.Decimal `json:"amount" validate:"dgt=0"`
}

type serviceUpdatePayload struct {
	Rate        *decimal.Decimal `json:"rate" validate:"omitempty,dgt=0"`
	Min         *int64           `json:"min" validate:"omitempty,gte=0"`
	Max         *int64           `json:"max" validate:"omitempty,gte=0"`
	Description *string          `json:"description"`
}

type bulkUpdateEntry struct {
	ID int64 `json:"id"`
	serviceUpdatePayload
}

type bulkUpdatePayload struct {
	Services []bulkUpdateEntry `json:"services" validate:"required,dive"`
}

// newValidator returns a validator that reports json field names and
// understands decimal bounds.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("dgt", decimalBound(func(d, bound decimal.Decimal) bool { return d.GreaterThan(bound) }))
	_ = v.RegisterValidation("dgte", decimalBound(func(d, bound decimal.Decimal) bool { return d.GreaterThanOrEqual(bound) }))
	return v
}

func decimalBound(cmp func(d, bound decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return cmp(d, bound)
	}
}

// decodeAndValidate reads a JSON body into dst and validates it. The returned
// error message is safe to show to clients.
func (s *Server) decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid url"
	case "email":
		return field + " must be a valid email"
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt", "dgt":
		return field + " must be greater than " + fe.Param()
	case "gte", "dgte":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

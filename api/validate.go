package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-ledger/ledger"
)

var validate = validator.New()

// outOfRange stands in for amounts too large to format; it fails every
// amount tag.
const outOfRange = "out-of-range"

func init() {
	// Report JSON field names (studentId, not StudentID).
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Money and decimal fields are validated through their string form so
	// the scale check stays exact. Huge values are never formatted.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if m, ok := field.Interface().(ledger.Money); ok {
			if !m.InRange() {
				return outOfRange
			}
			return m.String()
		}
		return nil
	}, ledger.Money{})
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			if !ledger.MoneyFromDecimal(d).InRange() {
				return outOfRange
			}
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	must(validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		m, err := ledger.ParseMoney(fl.Field().String())
		return err == nil && !m.IsNegative() && m.HasValidScale()
	}))
	must(validate.RegisterValidation("inrange", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseMoney(fl.Field().String())
		return err == nil
	}))
	must(validate.RegisterValidation("feetype", func(fl validator.FieldLevel) bool {
		return ledger.IsFeeType(ledger.FeeType(fl.Field().String()))
	}))
	must(validate.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		return ledger.IsBranch(ledger.Branch(fl.Field().String()))
	}))
	must(validate.RegisterValidation("paymentmethod", func(fl validator.FieldLevel) bool {
		return ledger.IsPaymentMethod(ledger.PaymentMethod(fl.Field().String()))
	}))
	must(validate.RegisterValidation("paymentsource", func(fl validator.FieldLevel) bool {
		return ledger.IsPaymentSource(ledger.PaymentSource(fl.Field().String()))
	}))
	must(validate.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// decodeAndValidate reads a JSON body into req and runs its validate tags.
// Malformed JSON is a 400; tag failures are a 422 with one entry per field.
// Returns false after writing the response.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		if field, ok := ledger.OutOfRangeField(err); ok {
			writeAmountTooLarge(w, field)
			return false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return false
	}
	if err := validateStruct(req); err != nil {
		var verr *ledger.ValidationError
		errors.As(err, &verr)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "Validation failed",
			Code:   CodeValidation,
			Fields: fieldErrors(verr.Fields),
		})
		return false
	}
	return true
}

var amountTooLarge = fmt.Sprintf("must be at most %d", ledger.MaxUnits)

// writeAmountTooLarge answers a body whose amount was rejected while decoding.
func writeAmountTooLarge(w http.ResponseWriter, field string) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:  "Validation failed",
		Code:   CodeValidation,
		Fields: fieldErrors([]ledger.FieldError{{Name: field, Message: amountTooLarge}}),
	})
}

// validateStruct converts validator failures into a *ledger.ValidationError.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		return ledger.NewValidationError(ledger.FieldError{Name: "body", Message: err.Error()})
	}
	verr := &ledger.ValidationError{}
	for _, fe := range fes {
		verr.Add(fieldName(fe), fieldMessage(fe))
	}
	return verr
}

// fieldName drops the struct name from the namespace: discount.kind.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "money":
		if fe.Value() == outOfRange {
			return amountTooLarge
		}
		return "must be a non-negative amount with at most two decimal places"
	case "inrange":
		return amountTooLarge
	case "feetype":
		return "unknown fee type"
	case "branch":
		return "unknown branch"
	case "paymentmethod":
		return "unknown payment method"
	case "paymentsource":
		return "unknown payment source"
	case "date":
		return "must be a date (2006-01-02) or RFC 3339 timestamp"
	default:
		return "is invalid"
	}
}

// parseDate accepts a calendar day or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// MaxBodyBytes bounds request bodies read by ParseJSON
const MaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// ParseJSON decodes the request body into dest and validates its struct
// tags. Failures are tenancy.ErrInvalidArgument errors.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return tenancy.Invalidf("invalid JSON: %v", err)
	}
	return Validate(dest)
}

// Validate checks the validate tags of a struct
func Validate(dest interface{}) error {
	if reflect.Indirect(reflect.ValueOf(dest)).Kind() != reflect.Struct {
		return nil
	}
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return tenancy.Invalidf("%v", err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation for %s", field, fe.Tag()))
		}
	}
	return tenancy.Invalidf("%s", strings.Join(messages, "; "))
}

// ParseJSONOrError decodes JSON and writes an error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(w, r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

// PathString returns a mux path variable
func PathString(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, tenancy.Invalidf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

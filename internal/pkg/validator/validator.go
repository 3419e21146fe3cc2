package validator

import (
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report fields by their env name when they have one
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
}

// Validate struct fields
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errors["_"] = err.Error()
		return errors
	}
	for _, err := range verrs {
		tag := err.Tag()
		if err.Param() != "" {
			tag += "=" + err.Param()
		}
		errors[err.Field()] = tag
	}
	return errors
}

// Describe renders Validate output as "FIELD: rule" pairs in a stable order.
func Describe(errs map[string]string) string {
	parts := make([]string, 0, len(errs))
	for field, tag := range errs {
		parts = append(parts, field+": "+tag)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}


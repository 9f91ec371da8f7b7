package chain

import "github.com/go-playground/validator/v10"

// RegisterValidation registers the "caip2" struct tag on v, following the
// teacher's getValidator/RegisterValidation("bigint", ...) pattern in
// rpc_node.go: a field tagged `validate:"caip2"` is valid iff Parse
// accepts its string value.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation("caip2", func(fl validator.FieldLevel) bool {
		_, err := Parse(fl.Field().String())
		return err == nil
	})
}

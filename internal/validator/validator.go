package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// translator renders validation tags as English sentences. Set once by Setup.
var translator ut.Translator

// Setup wires English translations into Gin's binding validator and makes
// error messages use JSON field names instead of Go struct field names.
// Must run before the first request is bound.
func Setup() {
	engine, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	engine.RegisterTagNameFunc(jsonFieldName)

	locale := en.New()
	translator, _ = ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(engine, translator)
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// Bind decodes the JSON body into dst and validates it. On failure it
// returns one message per offending field, ready for the error envelope;
// nil means dst is populated and valid.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}

	var verrs govalidator.ValidationErrors
	if !errors.As(err, &verrs) {
		// Malformed JSON, a type mismatch, or an empty body.
		return map[string]string{"body": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(translator)
	}
	return fields
}

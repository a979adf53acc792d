package handlers

import (
	"errors"
	"fmt"
	"strings"

	"tarot-talks/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// RegisterValidators adds the share enum validators to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	if err := v.RegisterValidation("share_platform", func(fl validator.FieldLevel) bool {
		return lo.Contains(models.Platforms, models.Platform(fl.Field().String()))
	}); err != nil {
		return err
	}
	return v.RegisterValidation("share_status", func(fl validator.FieldLevel) bool {
		return lo.Contains(models.ShareStatuses, models.ShareStatus(fl.Field().String()))
	})
}

// bindingMessage turns validator output into a short caller-facing message.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "share_platform":
			return fmt.Sprintf("%s must be one of %v", fe.Field(), models.Platforms)
		case "share_status":
			return fmt.Sprintf("%s must be one of %v", fe.Field(), models.ShareStatuses)
		default:
			return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
		}
	})
	return strings.Join(msgs, "; ")
}

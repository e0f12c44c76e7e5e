package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, err := model.ParseCategory(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		_, err := model.ParseStatus(fl.Field().String())
		return err == nil
	})
}

// checkRequest validates req and flattens field errors into one message.
func checkRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(f.Field()), f.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

type duplicateRequest struct {
	Category    string   `json:"category" validate:"omitempty,category"`
	Description string   `json:"description" validate:"required,max=4000"`
	Lat         *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type reportRequest struct {
	Category    string   `json:"category" validate:"required,category"`
	Description string   `json:"description" validate:"required,max=4000"`
	Lat         *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Force       bool     `json:"force"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,status"`
}

type searchRequest struct {
	Q       string   `validate:"max=500"`
	Lat     *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lng     *float64 `validate:"omitempty,gte=-180,lte=180"`
	RadiusM float64  `validate:"gte=0"`
	Limit   int      `validate:"gte=0"`
}

// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/neuroguard/neuroguard/pkg/api/middleware"
	"github.com/neuroguard/neuroguard/pkg/api/response"
	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON document into v. Every failure is a
// ValidationError.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.Validation("body", fmt.Sprintf("exceeds %d bytes", tooLarge.Limit), nil)
		case errors.Is(err, io.EOF):
			return apperrors.Validation("body", "is required", nil)
		default:
			return apperrors.Validation("body", "invalid JSON: "+err.Error(), nil)
		}
	}
	if dec.More() {
		return apperrors.Validation("body", "must contain a single JSON document", nil)
	}
	return nil
}

// decodeRequest is decodeJSON followed by the request's validate tags.
func decodeRequest(r *http.Request, v interface{}) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperrors.Validation(fe.Field(), "failed "+fe.Tag()+" check", nil)
		}
		return apperrors.Validation("body", err.Error(), nil)
	}
	return nil
}

// writeError logs and writes the envelope for err.
func writeError(log logger.Logger, w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch apperrors.Classify(err) {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		log.InfoContext(ctx, "request rejected", "op", op, "error", err)
	case apperrors.TypeCanceled, apperrors.TypeTimeout:
		log.WarnContext(ctx, "request interrupted", "op", op, "error", err)
	default:
		log.ErrorContext(ctx, "request failed", "op", op, "error", err)
	}
	response.HandleError(w, err, middleware.GetRequestID(ctx))
}

package utils

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/marketlens/marketlens/internal/apperr"
)

// DecodeValidate decodes a JSON body into body and checks its validate tags.
func DecodeValidate(r io.Reader, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		slog.Debug("request body decode failed", "error", err)
		return apperr.New("body is invalid json", http.StatusBadRequest)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(body); err != nil {
		slog.Debug("request body validation failed", "error", err)
		return apperr.New("required fields missing", http.StatusBadRequest)
	}
	return nil
}

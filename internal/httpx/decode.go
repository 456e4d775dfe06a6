package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

var validate = validator.New()

// DecodeAndValidate decodes r's JSON body into dst and runs struct-tag
// validation over it. Every bugbot request body uses `validate:"..."`
// tags (§6) so handlers get one consistent invalid_request error instead
// of each one hand-rolling field checks.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidRequest, "decoding request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errs.Wrap(errs.InvalidRequest, "validating request body", err)
	}
	return nil
}

// WriteError maps err to its HTTP status via errs.HTTPStatus and writes a
// uniform {"error": "..."} body.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, errs.HTTPStatus(err), map[string]string{"error": err.Error()})
}

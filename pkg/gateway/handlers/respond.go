// Package handlers implements the gateway's HTTP surface: frame
// processing, spatial analysis, gallery persistence, signaling, and
// health.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/gateway/apierror"
	"github.com/atelierlive/atelier/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	if err == errBodyTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return core.NewBadRequestError("invalid JSON body")
	}
	return nil
}

var errBodyTooLarge = core.NewBadRequestError("request body too large")

// decodeImage accepts raw base64 or a data URL and returns the image
// bytes.
func decodeImage(field, value string) ([]byte, error) {
	if value == "" {
		return nil, core.NewBadRequestErrorWithParam("missing image data", field)
	}
	if i := strings.IndexByte(value, ','); i >= 0 && strings.HasPrefix(value, "data:") {
		value = value[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, core.NewBadRequestErrorWithParam("image data is not valid base64", field)
	}
	if len(data) == 0 {
		return nil, core.NewBadRequestErrorWithParam("empty image", field)
	}
	return data, nil
}

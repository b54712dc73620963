package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vfsgate/vfsgate/gateway/api/errcode"
	"github.com/vfsgate/vfsgate/gateway/fs"
	"github.com/vfsgate/vfsgate/internal/dcontext"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// serveError maps err onto the taxonomy, logs it with request context and
// writes the failure envelope.
func (app *App) serveError(ctx context.Context, w http.ResponseWriter, err error) {
	apiErr := fs.ToAPI(err)

	status := http.StatusInternalServerError
	if coder, ok := apiErr.(errcode.ErrorCoder); ok {
		status = coder.ErrorCode().Descriptor().HTTPStatusCode
	}
	logger := dcontext.GetRequestLogger(ctx)
	if status >= 500 {
		logger.WithError(err).Errorf("request failed: %v", apiErr)
	} else {
		logger.Debugf("request rejected: %v", apiErr)
	}

	if err := errcode.ServeJSON(w, apiErr); err != nil {
		logger.WithError(err).Errorf("writing error envelope")
	}
}

// decodeBody strictly decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errcode.ErrorCodeValidation.WithArgs("malformed JSON body: " + err.Error())
	}
	return nil
}

// queryPath extracts and validates the mandatory "path" query parameter.
func queryPath(r *http.Request) (string, error) {
	p := r.URL.Query().Get("path")
	if p == "" || p[0] != '/' {
		return "", errcode.ErrorCodeValidation.WithArgs("path must be an absolute virtual path")
	}
	return p, nil
}

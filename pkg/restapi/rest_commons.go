// Package restapi contains the response and request helpers shared by the
// engine and the devnet ledger REST APIs.
package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentType     = "Content-Type"
	ApplicationJson = "application/json"
	ApplicationCbor = "application/cbor"
)

type (
	ErrorResponse struct {
		Message string `json:"message"`
	}

	/*
	ResponseWriter encodes responses. Errors written with WriteErrorResponse
	get the status registered for them with WithStatus, any other error is
	an internal error which is reported to LogErr.
	*/
	ResponseWriter struct {
		LogErr   func(err error)
		statuses []errStatus
	}

	errStatus struct {
		err  error
		code int
	}
)

func NewResponseWriter(logErr func(err error)) *ResponseWriter {
	return &ResponseWriter{LogErr: logErr}
}

// WithStatus registers status code for errors matching err (using errors.Is).
// Registrations are checked in order.
func (rw *ResponseWriter) WithStatus(err error, code int) *ResponseWriter {
	rw.statuses = append(rw.statuses, errStatus{err: err, code: code})
	return rw
}

func (rw *ResponseWriter) WriteResponse(w http.ResponseWriter, data any) {
	rw.WriteResponseStatus(w, http.StatusOK, data)
}

func (rw *ResponseWriter) WriteResponseStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set(ContentType, ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.logError(fmt.Errorf("encoding response as json: %w", err))
	}
}

func (rw *ResponseWriter) WriteCborResponse(w http.ResponseWriter, data any) {
	b, err := cbor.Marshal(data)
	if err != nil {
		rw.WriteErrorResponse(w, fmt.Errorf("encoding response as cbor: %w", err))
		return
	}
	w.Header().Set(ContentType, ApplicationCbor)
	if _, err := w.Write(b); err != nil {
		rw.logError(fmt.Errorf("writing cbor response: %w", err))
	}
}

func (rw *ResponseWriter) WriteErrorResponse(w http.ResponseWriter, err error) {
	for _, s := range rw.statuses {
		if errors.Is(err, s.err) {
			rw.ErrorResponse(w, s.code, err)
			return
		}
	}
	rw.ErrorResponse(w, http.StatusInternalServerError, err)
	rw.logError(err)
}

func (rw *ResponseWriter) InvalidParamResponse(w http.ResponseWriter, name string, err error) {
	rw.ErrorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", name, err))
}

func (rw *ResponseWriter) ErrorResponse(w http.ResponseWriter, code int, err error) {
	w.Header().Set(ContentType, ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: err.Error()}); err != nil {
		rw.logError(fmt.Errorf("encoding error response as json: %w", err))
	}
}

/*
DecodeRequest decodes the request body into v, CBOR when the content type of
the request says so and JSON otherwise. On failure "400 Bad Request" has been
written and false is returned.
*/
func (rw *ResponseWriter) DecodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	var err error
	if isCbor(r.Header.Get(ContentType)) {
		err = cbor.NewDecoder(r.Body).Decode(v)
	} else {
		err = json.NewDecoder(r.Body).Decode(v)
	}
	if err != nil {
		rw.InvalidParamResponse(w, "body", err)
		return false
	}
	return true
}

func (rw *ResponseWriter) logError(err error) {
	if rw.LogErr != nil {
		rw.LogErr(err)
	}
}

func isCbor(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == ApplicationCbor
}

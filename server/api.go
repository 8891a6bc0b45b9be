package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/sirupsen/logrus"
)

// Logger is used by all walletkit server packages. Replace or configure it
// before starting a server.
var Logger = logrus.StandardLogger()

// RemoteError is the JSON body sent to HTTP callers on failure.
type RemoteError struct {
	Status      int    `json:"status"`
	ErrorName   string `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message,omitempty"`
}

func remoteError(err Error, message string) *RemoteError {
	Logger.WithFields(logrus.Fields{
		"error":  err.Type,
		"status": err.Status,
	}).Warn(message)
	return &RemoteError{
		Status:      err.Status,
		ErrorName:   string(err.Type),
		Description: err.Description,
		Message:     message,
	}
}

// JsonResponse JSON-marshals the specified object or error and returns it
// along with a suitable HTTP status code.
func JsonResponse(v interface{}, rerr *RemoteError) (int, []byte) {
	msg := v
	status := http.StatusOK
	if rerr != nil {
		msg = rerr
		status = rerr.Status
	}
	b, e := json.Marshal(msg)
	if e != nil {
		Logger.Error("Failed to serialize response:", e.Error())
		return http.StatusInternalServerError, nil
	}
	return status, b
}

// WriteError writes the specified error and explaining message as JSON to the
// http.ResponseWriter.
func WriteError(w http.ResponseWriter, err Error, msg string) {
	WriteResponse(w, nil, remoteError(err, msg))
}

// WriteJson writes the specified object as JSON to the http.ResponseWriter.
func WriteJson(w http.ResponseWriter, object interface{}) {
	WriteResponse(w, object, nil)
}

// WriteResponse writes the specified object or error as JSON to the
// http.ResponseWriter.
func WriteResponse(w http.ResponseWriter, object interface{}, rerr *RemoteError) {
	status, bts := JsonResponse(object, rerr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bts)
}

// WriteString writes the specified string to the http.ResponseWriter.
func WriteString(w http.ResponseWriter, str string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(str))
}

// Redirect sends a 302 redirect to the given location.
func Redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

// LogError logs err including, if it is a go-errors error, its stack trace,
// and returns it unmodified.
func LogError(err error) error {
	Logger.Error(err.Error())
	if e, ok := err.(*errors.Error); ok && Logger.IsLevelEnabled(logrus.DebugLevel) {
		Logger.Debug(e.ErrorStack())
	}
	return err
}

// ToJson marshals v for logging; errors are swallowed since the result is
// informational only.
func ToJson(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

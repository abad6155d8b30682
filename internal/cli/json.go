package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"

	"github.com/tidwall/pretty"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/ui"
)

// machineMode is set by commands running with --json. Errors are then
// written as a JSON envelope on stdout instead of text on stderr.
var machineMode bool

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ErrCodeUnknown marks errors that didn't come from fleetdash's own taxonomy.
const ErrCodeUnknown = "UNKNOWN"

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: true, Data: data})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{Success: false, Error: ErrorToJSON(err)})
}

// writeJSONEnvelope indents the envelope and colors it for terminals.
func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = pretty.Pretty(data)
	if !noColor && ui.IsTerminal(w) {
		data = pretty.Color(data, nil)
	}
	_, err = w.Write(data)
	return err
}

// ErrorToJSON converts a Go error to a JSONError, keeping the code of
// structured errors.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var fdErr *errors.Error
	if stderrors.As(err, &fdErr) {
		return &JSONError{
			Code:       fdErr.Code,
			Message:    fdErr.Short(),
			Suggestion: fdErr.Suggestion,
		}
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

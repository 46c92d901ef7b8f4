package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/aigateway/aigateway/internal/gatewayerr"
)

// errorBody is the `{error:{message, type, code?}}` shape from spec §6.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = errType
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeGatewayErr maps a gateway error to its HTTP status/type and writes it.
func writeGatewayErr(w http.ResponseWriter, err error) {
	status := gatewayerr.HTTPStatus(err)
	errType := gatewayerr.ErrorType(err)

	code := ""
	if pe, ok := gatewayerr.AsProviderError(err); ok {
		code = pe.Code
	}

	var body errorBody
	body.Error.Message = err.Error()
	body.Error.Type = errType
	body.Error.Code = code

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

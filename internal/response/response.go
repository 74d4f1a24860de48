// internal/response/response.go
package response

import (
	"net/http"

	"github.com/segmentio/encoding/json"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSON writes a 200 response. If v cannot be encoded nothing of it is sent
// and the client gets a 500 instead.
func JSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		InternalError(w, "encode response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	res := errorBody{}
	res.Error.Code = code
	res.Error.Message = msg
	_ = json.NewEncoder(w).Encode(res)
}

func BadRequest(w http.ResponseWriter, msg string) { writeError(w, http.StatusBadRequest, msg) }
func NotFound(w http.ResponseWriter, msg string)   { writeError(w, http.StatusNotFound, msg) }
func InternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, msg)
}

package api

import (
	"encoding/json"
	"net/http"

	"hermannm.dev/devlog/log"
	"hermannm.dev/wrap"
)

func sendClientError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, http.StatusBadRequest)
}

func sendServerError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, http.StatusInternalServerError)
}

func sendError(res http.ResponseWriter, err error, message string, statusCode int) {
	if err != nil {
		if message == "" {
			message = err.Error()
		} else {
			message = wrap.Error(err, message).Error()
		}
	}

	log.Debugf("request failed with status %d: %s", statusCode, message)
	http.Error(res, message, statusCode)
}

func sendJSON(res http.ResponseWriter, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		sendServerError(res, err, "failed to serialize response")
		return
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write(body); err != nil {
		log.ErrorCause(err, "failed to write response")
	}
}

// Rejects requests with any other method than the given one.
func allowMethod(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			res.Header().Set("Allow", method)
			sendError(res, nil, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(res, req)
	}
}

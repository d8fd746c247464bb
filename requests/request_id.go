package requests

import (
	"math/rand"
	"net/http"
)

const requestIDHeader = "X-Request-Id"

// GetRequestID returns the inbound request id, minting one when the caller
// did not send any. The id is written back onto the request so later
// handlers see the same value.
func GetRequestID(req *http.Request) string {
	requestID := req.Header.Get(requestIDHeader)
	if requestID != "" {
		return requestID
	}
	requestID = randomTrailer(8)
	req.Header.Set(requestIDHeader, requestID)
	return requestID
}

func randomTrailer(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[rand.Intn(len(charset))]
	}
	return string(res)
}

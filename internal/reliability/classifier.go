package reliability

import "github.com/gorilla/websocket"

// CloseClass buckets websocket close codes for metrics labels.
func CloseClass(code int) string {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return "normal"
	case websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived:
		return "abnormal"
	case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData, websocket.CloseInvalidFramePayloadData, websocket.CloseMessageTooBig:
		return "rejected"
	case websocket.CloseInternalServerErr, websocket.CloseServiceRestart, websocket.CloseTryAgainLater:
		return "server_error"
	default:
		if code >= 4000 && code <= 4999 {
			return "application"
		}
		return "other"
	}
}

// IsExpectedClose reports whether code describes an orderly shutdown.
func IsExpectedClose(code int) bool {
	return CloseClass(code) == "normal"
}

package wire

import "github.com/coder/websocket"

// WebSocket close codes used by the gateway. Codes in the 4000 range are
// application-defined per RFC 6455.
const (
	CloseNormal                  = websocket.StatusNormalClosure
	CloseInternalError           = websocket.StatusInternalError
	CloseInvalidToken            websocket.StatusCode = 4001
	CloseConnectionLimitExceeded websocket.StatusCode = 4002
	CloseRateLimitExceeded       websocket.StatusCode = 4003
)

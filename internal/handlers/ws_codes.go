package handlers

// Custom WebSocket close codes used by the room handler. These give clients
// a more specific reason for closure than the standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	InvalidRoomIDError    = 3003 // Target room ID in the WS URL does not exist or is malformed.
)

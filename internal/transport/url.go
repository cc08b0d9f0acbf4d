package transport

import (
	"encoding/base64"
	"encoding/json"
	"net/url"

	"obsidion/internal/domain"
)

// DefaultBridgeURL is the public relay endpoint.
const DefaultBridgeURL = "wss://bridge.zkpassport.id"

// WSURL builds the relay connect URL. All sessions subscribe to their
// bridge id; a Joiner that has not yet established the secure channel also
// carries its handshake envelope in the moc parameter, which the relay
// broadcasts on connect.
func WSURL(bridgeURL, bridgeID string, handshake *domain.Envelope) (string, error) {
	if bridgeURL == "" {
		bridgeURL = DefaultBridgeURL
	}
	u := bridgeURL + "?id=" + url.QueryEscape(bridgeID)
	if handshake == nil {
		return u, nil
	}
	frame, err := json.Marshal(handshake)
	if err != nil {
		return "", err
	}
	moc := base64.StdEncoding.EncodeToString(frame)
	return u + "&moc=" + url.QueryEscape(moc), nil
}

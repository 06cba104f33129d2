package domain

import "time"

// AgentSecret holds the current encrypted credential set of an agent.
// All string fields except Provider are vault ciphertexts.
type AgentSecret struct {
	ID              string
	AgentID         string
	Provider        Provider
	EncryptedAPIKey string
	ChannelToken    string
	ChannelUserID   string
	ChannelChatID   *string
	SetupPassword   *string // generated at deploy time
	GatewayToken    *string // generated at deploy time
	CreatedAt       time.Time
}

// HasRuntimeSecrets returns true once a deploy generated the handshake secrets.
func (s *AgentSecret) HasRuntimeSecrets() bool {
	return s.SetupPassword != nil && s.GatewayToken != nil
}

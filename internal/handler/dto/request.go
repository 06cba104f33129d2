package dto

// CreateAgentRequest represents the request body for POST /agents.
type CreateAgentRequest struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Channel string `json:"channel,omitempty"`
}

// ConfigureAgentRequest represents the request body for POST /agents/{id}/config.
type ConfigureAgentRequest struct {
	Provider      string  `json:"provider"`
	APIKey        string  `json:"api_key"`
	ChannelToken  string  `json:"channel_token"`
	ChannelUserID string  `json:"channel_user_id"`
	ChannelChatID *string `json:"channel_chat_id,omitempty"`
}

// TelegramTokenRequest represents the request body for the telegram helpers.
type TelegramTokenRequest struct {
	Token string `json:"token"`
}

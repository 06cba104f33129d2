package handler

import (
	"net/http"

	"github.com/mtlprog/agentdeploy/internal/handler/dto"
)

// handleValidateTelegramToken checks a bot token against the Bot API.
// @Summary Validate Telegram bot token
// @Tags telegram
// @Accept json
// @Produce json
// @Param request body dto.TelegramTokenRequest true "Bot token"
// @Success 200 {object} dto.TelegramBotResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /telegram/validate-token [post]
func (h *Handler) handleValidateTelegramToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	var req dto.TelegramTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bot, err := h.telegram.ValidateToken(r.Context(), req.Token)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTelegramBotResponse(bot))
}

// handleResolveTelegramChat finds the chat that last messaged the bot.
// @Summary Resolve Telegram chat
// @Description The user must send any message to the bot first.
// @Tags telegram
// @Accept json
// @Produce json
// @Param request body dto.TelegramTokenRequest true "Bot token"
// @Success 200 {object} dto.TelegramChatResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /telegram/resolve-chat [post]
func (h *Handler) handleResolveTelegramChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireOwner(w, r); !ok {
		return
	}

	var req dto.TelegramTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	chat, err := h.telegram.ResolveChat(r.Context(), req.Token)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTelegramChatResponse(chat))
}

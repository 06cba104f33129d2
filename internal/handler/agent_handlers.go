package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/handler/dto"
	"github.com/mtlprog/agentdeploy/internal/service"
)

// handleListAgents lists the owner's agents.
// @Summary List agents
// @Tags agents
// @Produce json
// @Success 200 {object} dto.AgentsListResponse
// @Security OwnerAuth
// @Router /agents [get]
func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	agents, err := h.agents.ListAgents(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToAgentsListResponse(agents))
}

// handleCreateAgent creates a new agent in DRAFT status.
// @Summary Create an agent
// @Description Requires an authorized subscription with a free agent slot.
// @Tags agents
// @Accept json
// @Produce json
// @Param request body dto.CreateAgentRequest true "Agent creation request"
// @Success 201 {object} dto.AgentResponse
// @Failure 402 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents [post]
func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.CreateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.agents.CreateAgent(r.Context(), ownerID, service.CreateAgentInput{
		Name:    req.Name,
		Model:   req.Model,
		Channel: domain.Channel(req.Channel),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToAgentResponse(agent))
}

// handleGetAgent returns one agent.
// @Summary Get agent
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.AgentResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id} [get]
func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToAgentResponse(agent))
}

// handleDeleteAgent tears down the agent's service and deletes it.
// @Summary Delete agent
// @Tags agents
// @Param id path string true "Agent ID"
// @Success 204
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id} [delete]
func (h *Handler) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	if err := h.agents.DeleteAgent(r.Context(), ownerID, agentID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleConfigureAgent stores the agent's credentials.
// @Summary Configure agent
// @Description Credentials are encrypted at rest. Allowed in any status except DEPLOYING.
// @Tags agents
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body dto.ConfigureAgentRequest true "Credentials"
// @Success 200 {object} dto.AgentResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/config [post]
func (h *Handler) handleConfigureAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	var req dto.ConfigureAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.agents.ConfigureAgent(r.Context(), ownerID, agentID, service.ConfigureInput{
		Provider:      domain.Provider(req.Provider),
		APIKey:        req.APIKey,
		ChannelToken:  req.ChannelToken,
		ChannelUserID: req.ChannelUserID,
		ChannelChatID: req.ChannelChatID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToAgentResponse(agent))
}

// handleDeployAgent provisions the agent's service. Provisioning outlasts the
// server's WriteTimeout, so the route extends its own write deadline.
// @Summary Deploy agent
// @Description On provisioning failure the response carries the FAILED agent next to the error.
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.AgentResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 502 {object} dto.DeployErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/deploy [post]
func (h *Handler) handleDeployAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.deployWriteTimeout)); err != nil {
		slog.Warn("cannot extend write deadline for deploy", "agent_id", agentID, "error", err)
	}

	agent, err := h.agents.DeployAgent(r.Context(), ownerID, agentID)
	if err != nil {
		status, code, message := dto.MapDomainError(err)
		if agent != nil {
			respondJSON(w, status, dto.DeployErrorResponse{
				Error: dto.ErrorDetail{Code: code, Message: message},
				Agent: dto.ToAgentResponse(agent),
			})
			return
		}
		respondError(w, status, code, message)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToAgentResponse(agent))
}

// handleFinalizeAgent starts the setup handshake in the background.
// @Summary Finalize agent setup
// @Description Returns a job to poll. Submitting again while a job is active returns that job.
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 202 {object} dto.FinalizeJobResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/finalize [post]
func (h *Handler) handleFinalizeAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	job, err := h.finalizer.Submit(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/finalize-jobs/"+job.ID)
	respondJSON(w, http.StatusAccepted, dto.ToFinalizeJobResponse(job))
}

// handleGetFinalizeJob returns the state of a finalize job.
// @Summary Get finalize job
// @Tags agents
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} dto.FinalizeJobResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /finalize-jobs/{id} [get]
func (h *Handler) handleGetFinalizeJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	jobID, ok := extractID(w, r, "job")
	if !ok {
		return
	}

	job, err := h.finalizer.Get(r.Context(), ownerID, jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToFinalizeJobResponse(job))
}

// handleRestartAgent asks the provider to restart the agent's service.
// @Summary Restart agent
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.AgentResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/restart [post]
func (h *Handler) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	agent, err := h.agents.RestartAgent(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToAgentResponse(agent))
}

// handleGetLogs returns the logs of the latest deployment record.
// @Summary Get agent logs
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.LogsResponse
// @Security OwnerAuth
// @Router /agents/{id}/logs [get]
func (h *Handler) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	logs, err := h.agents.GetLogs(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.LogsResponse{Logs: logs})
}

// handleListDeployments returns the agent's deployment history.
// @Summary List deployments
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.DeploymentsListResponse
// @Security OwnerAuth
// @Router /agents/{id}/deployments [get]
func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	deployments, err := h.agents.ListDeployments(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToDeploymentsListResponse(deployments))
}

// handleGetGatewayToken returns the decrypted gateway token.
// @Summary Get gateway token
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.GatewayTokenResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/gateway-token [get]
func (h *Handler) handleGetGatewayToken(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	token, err := h.agents.GetGatewayToken(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.GatewayTokenResponse{GatewayToken: token})
}

// handleGetSetupPassword returns the decrypted setup password.
// @Summary Get setup password
// @Tags agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} dto.SetupPasswordResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security OwnerAuth
// @Router /agents/{id}/setup-password [get]
func (h *Handler) handleGetSetupPassword(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	agentID, ok := extractID(w, r, "agent")
	if !ok {
		return
	}

	password, err := h.agents.GetSetupPassword(r.Context(), ownerID, agentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.SetupPasswordResponse{SetupPassword: password})
}

// handleStopAgents stops every running or deploying agent of the owner.
// @Summary Stop all agents
// @Tags agents
// @Produce json
// @Success 200 {object} dto.StopAgentsResponse
// @Security OwnerAuth
// @Router /agents/stop [post]
func (h *Handler) handleStopAgents(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	stopped, err := h.agents.StopAllAgents(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.StopAgentsResponse{Stopped: stopped})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openstratus/stratus/pkg/credentials"
	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/stores"
)

// errorResponse is the JSON body for every non-2xx answer.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rejectionStatus maps a rejection code to its HTTP status.
func rejectionStatus(code orchestrator.RejectionCode) int {
	switch code {
	case orchestrator.CodeTemplateNotFound,
		orchestrator.CodeFlavorNotFound,
		orchestrator.CodeRegionNotFound,
		orchestrator.CodePluginNotFound,
		orchestrator.CodeServiceNotFound,
		orchestrator.CodeCredentialsNotFound:
		return http.StatusNotFound
	case orchestrator.CodeServiceLocked,
		orchestrator.CodeInvalidServiceState:
		return http.StatusConflict
	case orchestrator.CodePolicyDenied:
		return http.StatusForbidden
	case orchestrator.CodeInvalidRequest,
		orchestrator.CodeCredentialIncomplete,
		orchestrator.CodeVariableValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if rej, ok := orchestrator.AsRejection(err); ok {
		s.writeJSON(w, rejectionStatus(rej.Code), errorResponse{
			Code:    string(rej.Code),
			Message: rej.Message,
		})
		return
	}
	if errors.Is(err, stores.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    "NOT_FOUND",
			Message: err.Error(),
		})
		return
	}

	s.logger.Error().Err(err).Msg("Request failed")
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    "INTERNAL",
		Message: "internal error",
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    string(orchestrator.CodeInvalidRequest),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// handleDeploy provisions a new service instance.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Kind = "deploy"
	req.ServiceID = ""

	order, err := s.orch.Submit(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, order)
}

// handleOperation submits a lifecycle operation against an existing
// instance. The operation kind comes from the route, the instance id
// from the path.
func (s *Server) handleOperation(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.SubmitRequest
		if r.ContentLength != 0 {
			if !s.decode(w, r, &req) {
				return
			}
		}
		req.Kind = kind
		req.ServiceID = mux.Vars(r)["id"]

		order, err := s.orch.Submit(r.Context(), &req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		status := http.StatusAccepted
		if order.Phase.IsTerminal() {
			status = http.StatusOK
		}
		s.writeJSON(w, status, order)
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orch.QueryOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stores.OrderFilter{
		ServiceID: q.Get("serviceId"),
		Kind:      stores.OrderKind(q.Get("kind")),
		Phase:     stores.OrderPhase(q.Get("phase")),
	}
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	orders, err := s.orch.ListOrders(r.Context(), filter, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := s.orch.GetInstance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instance)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stores.InstanceFilter{
		Csp:          q.Get("csp"),
		TemplateName: q.Get("template"),
		State:        stores.DeploymentState(q.Get("state")),
	}
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	instances, err := s.orch.ListInstances(r.Context(), filter, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Catalog().List())
}

type cspResponse struct {
	Csp     string   `json:"csp"`
	Regions []string `json:"regions"`
}

// handleListCsps lists the registered cloud providers and the regions
// each plugin serves.
func (s *Server) handleListCsps(w http.ResponseWriter, r *http.Request) {
	reg := s.orch.Plugins()
	out := make([]cspResponse, 0)
	for _, csp := range reg.Csps() {
		plugin, err := reg.Resolve(csp)
		if err != nil {
			continue
		}
		out = append(out, cspResponse{Csp: csp, Regions: plugin.Regions()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleStoreCredential stores a credential directly into the cache.
// The TTL is the service-wide one; the credential's own expiry caps it.
func (s *Server) handleStoreCredential(w http.ResponseWriter, r *http.Request) {
	var cred credentials.Credential
	if !s.decode(w, r, &cred) {
		return
	}

	if err := s.orch.Credentials().Store(&cred); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    string(orchestrator.CodeInvalidRequest),
			Message: err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

// handleDeployerWebhook receives an asynchronous deployer result.
// Deliveries are acknowledged with 200 regardless of whether they
// applied: duplicates, post-terminal results, and unknown correlation
// ids are all no-ops the transport may redeliver.
func (s *Server) handleDeployerWebhook(w http.ResponseWriter, r *http.Request) {
	var result orchestrator.CallbackResult
	if !s.decode(w, r, &result) {
		return
	}

	if err := s.orch.HandleCallback(r.Context(), mux.Vars(r)["correlationId"], &result); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pagination(limitStr, offsetStr string) (int, int) {
	limit := 100
	offset := 0
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 1000 {
		limit = n
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

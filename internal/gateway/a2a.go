package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	scoutotel "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/runner"
	"github.com/basket/scout/internal/tasks"
)

const (
	ErrCodeInvalidRequest = -32600
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	// ErrCodeBackpressure reports a full task queue.
	ErrCodeBackpressure = 4290
)

const methodMessageSend = "message/send"

// AgentCard follows the A2A agent card schema, plus the endpoint map this
// agent exposes.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []A2ASkill   `json:"skills"`
	Endpoints          Endpoints    `json:"endpoints"`
}

// Capabilities describes what the agent can do.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

type A2ASkill struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Tags         []string        `json:"tags,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema"`
}

type Endpoints struct {
	MessageSend string `json:"message_send"`
	TasksGet    string `json:"tasks_get"`
}

func (s *Server) agentCard() AgentCard {
	return AgentCard{
		Name:        "scout",
		Description: "Searches the web for a question and summarizes the results with cited sources",
		URL:         s.cfg.PublicURL,
		Version:     s.cfg.Version,
		Capabilities: Capabilities{
			Streaming:              true,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []A2ASkill{{
			ID:           "web_search_summarize",
			Name:         "Web search and summarize",
			Description:  "Runs a web search for the query and returns a concise answer with its sources",
			Tags:         []string{"search", "summarization", "research"},
			InputSchema:  json.RawMessage(skillInputSchema),
			OutputSchema: json.RawMessage(skillOutputSchema),
		}},
		Endpoints: Endpoints{
			MessageSend: "/a2a/message/send",
			TasksGet:    "/a2a/tasks/get",
		},
	}
}

// handleAgentCard handles GET /.well-known/agent.json requests.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.cfg.A2AEnabled {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, s.agentCard())
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendParams struct {
	Content struct {
		Query string `json:"query"`
	} `json:"content"`
}

type getParams struct {
	TaskID string `json:"task_id"`
}

type sendResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type getResult struct {
	TaskID string        `json:"task_id"`
	Status string        `json:"status"`
	Result *tasks.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// readEnvelope reads and validates a JSON-RPC envelope, reporting failures
// with code. Each endpoint has one code for malformed input. A nil rpcError
// means req is usable.
func (s *Server) readEnvelope(r *http.Request, code int) (rpcRequest, any, *rpcError) {
	var req rpcRequest
	body, err := readBody(r)
	if err != nil {
		return req, nil, &rpcError{Code: code, Message: err.Error()}
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, nil, &rpcError{Code: code, Message: "invalid JSON-RPC request"}
	}
	id, _ := decodeID(req.ID)
	if err := s.schemas.envelope.validate(body); err != nil {
		return req, id, &rpcError{Code: code, Message: "invalid JSON-RPC request"}
	}
	trace.SpanFromContext(r.Context()).SetAttributes(scoutotel.AttrRPCMethod.String(req.Method))
	return req, id, nil
}

// handleMessageSend is the A2A form of POST /invoke. Malformed envelopes,
// methods and params all answer -32600.
func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	if !s.rpcPreamble(w, r) {
		return
	}
	req, id, rpcErr := s.readEnvelope(r, ErrCodeInvalidRequest)
	if rpcErr != nil {
		writeRPC(w, id, nil, rpcErr)
		return
	}
	if req.Method != methodMessageSend {
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidRequest, Message: "method must be " + methodMessageSend})
		return
	}
	if err := s.schemas.sendParams.validate(req.Params); err != nil {
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidRequest, Message: "params.content.query must be a string"})
		return
	}
	var p sendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidRequest, Message: "invalid params"})
		return
	}

	taskID, err := s.cfg.Service.Submit(r.Context(), p.Content.Query)
	switch {
	case errors.Is(err, runner.ErrEmptyQuery):
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidRequest, Message: err.Error()})
	case errors.Is(err, runner.ErrQueueFull):
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeBackpressure, Message: err.Error()})
	case err != nil:
		s.logger.ErrorContext(r.Context(), "a2a: submit failed", "error", err)
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInternal, Message: "internal error"})
	default:
		writeRPC(w, id, sendResult{TaskID: taskID, Status: "accepted"}, nil)
	}
}

// handleTasksGet reports the three-way status. Unlike GET /result it tells
// unknown ids apart from running ones. The method is implied by the path and
// never read; every malformed request answers -32602.
func (s *Server) handleTasksGet(w http.ResponseWriter, r *http.Request) {
	if !s.rpcPreamble(w, r) {
		return
	}
	req, id, rpcErr := s.readEnvelope(r, ErrCodeInvalidParams)
	if rpcErr != nil {
		writeRPC(w, id, nil, rpcErr)
		return
	}
	if err := s.schemas.getParams.validate(req.Params); err != nil {
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidParams, Message: "params.task_id must be a non-empty string"})
		return
	}
	var p getParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInvalidParams, Message: "invalid params"})
		return
	}

	status, out, err := s.cfg.Service.Status(r.Context(), p.TaskID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "a2a: status failed", "task_id", p.TaskID, "error", err)
		writeRPC(w, id, nil, &rpcError{Code: ErrCodeInternal, Message: "internal error"})
		return
	}
	res := getResult{TaskID: p.TaskID, Status: string(status)}
	switch status {
	case runner.StatusCompleted:
		res.Result = out.Result
	case runner.StatusFailed:
		res.Error = out.Error
	}
	writeRPC(w, id, res, nil)
}

func (s *Server) rpcPreamble(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if !s.cfg.A2AEnabled {
		http.NotFound(w, r)
		return false
	}
	return true
}

// writeRPC always answers 200; failures travel in the envelope.
func writeRPC(w http.ResponseWriter, id any, result any, rpcErr *rpcError) {
	resp := rpcResponse{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	return generic, true
}

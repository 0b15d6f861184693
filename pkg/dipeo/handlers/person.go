package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/memory"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/model"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/template"
)

// personHandler addresses an agent identity: it builds a prompt,
// replays the agent's conversation per the node's memory mode, calls
// the model, and appends the exchange to the conversation.
//
// The model call happens inside Agent.Session, so the per-agent lock is
// held across it. Two person nodes addressing the same agent in the
// same wave therefore serialize, and the conversation order matches
// real invocation order.
//
// Properties:
//
//	prompt         template string; defaults to the first input's text
//	memory         "full" (default), "forget", or "isolated"
//	view_criteria  substring filter applied to replayed history
//	view_max       cap on replayed messages (most recent first)
//	model          overrides the agent's model id
//	system_prompt  overrides the agent's system prompt
type personHandler struct {
	dipeo.BaseHandler
	client model.Client
}

func newPerson(services *dipeo.ServiceRegistry) (dipeo.Handler, error) {
	h := &personHandler{}
	if services.Has(ServiceModelClient) {
		client, err := dipeo.Resolve[model.Client](services, ServiceModelClient)
		if err != nil {
			return nil, fmt.Errorf("person handler: %w", err)
		}
		h.client = client
	}
	return h, nil
}

func (h *personHandler) PreExecute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	if h.client == nil {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("no %q service registered", ServiceModelClient),
		}
	}
	if req.Node.AgentID == "" {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("person node addresses no agent"),
		}
	}
	return nil, nil
}

func (h *personHandler) Execute(ctx context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	spec, ok := req.Diagram.Agent(req.Node.AgentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not declared", req.Node.AgentID)
	}

	agent := req.Memory.GetOrCreateAgent(spec.ID, memory.Config{
		Model:        spec.Model,
		SystemPrompt: spec.SystemPrompt,
	})

	prompt := req.Node.Props.String("prompt", "")
	if prompt == "" {
		prompt = req.FirstInput().Text()
	} else {
		prompt = template.Expand(prompt, req.InputVars())
	}

	mode := memory.ParseMode(req.Node.Props.String("memory", ""))
	criteria := req.Node.Props.String("view_criteria", "")
	viewMax := req.Node.Props.Int("view_max", 0)

	modelID := req.Node.Props.String("model", agent.Config().Model)
	system := req.Node.Props.String("system_prompt", agent.Config().SystemPrompt)

	var resp model.Response
	var callErr error
	agent.Session(func(c *memory.Conversation) {
		if mode == memory.ModeForget {
			c.Reset()
		}

		var history []memory.Message
		if mode != memory.ModeIsolated {
			if criteria != "" || viewMax > 0 {
				history = c.View(criteria, viewMax)
			} else {
				history = c.Messages()
			}
		}

		mreq := model.Request{Model: modelID, System: system}
		for _, msg := range history {
			mreq.Messages = append(mreq.Messages, model.Message{Role: msg.Role, Content: msg.Content})
		}
		mreq.Messages = append(mreq.Messages, model.Message{Role: model.RoleUser, Content: prompt})

		resp, callErr = h.client.Complete(ctx, mreq)
		if callErr != nil {
			return
		}

		// Every mode appends; only the read side varies.
		c.Append(
			memory.NewMessage(model.RoleUser, prompt, req.Node.ID, req.RunID),
			memory.NewMessage(model.RoleAssistant, resp.Text, req.Node.ID, req.RunID),
		)
	})
	if callErr != nil {
		return nil, fmt.Errorf("model call for agent %q: %w", spec.ID, callErr)
	}

	return dipeo.NewEnvelope(req.Node.ID, resp.Text,
		dipeo.WithRepresentation(dipeo.RepText, resp.Text),
		dipeo.WithRepresentation(dipeo.RepObject, map[string]any{
			"agent_id":      spec.ID,
			"response":      resp.Text,
			"finish_reason": resp.FinishReason,
		})), nil
}

// Package handlers provides the built-in node types: start, endpoint,
// condition, person, template, api, and sub_diagram.
//
// Each type registers a Definition carrying its factory and default
// handle contract. Register wires all of them into a registry at once;
// applications may also register any subset alongside their own types.
package handlers

import (
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
)

// Node type tags.
const (
	TypeStart      = "start"
	TypeEndpoint   = "endpoint"
	TypeCondition  = "condition"
	TypePerson     = "person"
	TypeTemplate   = "template"
	TypeAPI        = "api"
	TypeSubDiagram = "sub_diagram"
)

// Well-known service names resolved from the ServiceRegistry.
const (
	// ServiceModelClient is the model.Client used by person nodes.
	ServiceModelClient = "model.client"

	// ServiceStateStore is the state.Store endpoint nodes persist to.
	ServiceStateStore = "state.store"

	// ServiceHTTPClient is the *http.Client used by api nodes.
	ServiceHTTPClient = "http.client"

	// DiagramPrefix namespaces compiled diagrams for sub_diagram nodes:
	// a node with diagram "review" resolves "diagram:review".
	DiagramPrefix = "diagram:"
)

// Register adds every built-in node type to the registry.
// Returns the registry for chaining.
func Register(reg *dipeo.HandlerRegistry) *dipeo.HandlerRegistry {
	reg.Register(TypeStart, dipeo.Definition{
		New:     newStart,
		Outputs: []string{dipeo.DefaultHandle},
	})
	reg.Register(TypeEndpoint, dipeo.Definition{
		New:    newEndpoint,
		Inputs: []dipeo.Handle{{Name: dipeo.DefaultHandle, Required: true}},
	})
	reg.Register(TypeCondition, dipeo.Definition{
		New:       newCondition,
		Inputs:    []dipeo.Handle{{Name: dipeo.DefaultHandle, Required: true}},
		Outputs:   []string{dipeo.DefaultHandle},
		Branching: true,
	})
	reg.Register(TypePerson, dipeo.Definition{
		New:     newPerson,
		Inputs:  []dipeo.Handle{{Name: dipeo.DefaultHandle}},
		Outputs: []string{dipeo.DefaultHandle},
	})
	reg.Register(TypeTemplate, dipeo.Definition{
		New:     newTemplate,
		Inputs:  []dipeo.Handle{{Name: dipeo.DefaultHandle}},
		Outputs: []string{dipeo.DefaultHandle},
	})
	reg.Register(TypeAPI, dipeo.Definition{
		New:     newAPI,
		Inputs:  []dipeo.Handle{{Name: dipeo.DefaultHandle}},
		Outputs: []string{dipeo.DefaultHandle},
	})
	reg.Register(TypeSubDiagram, dipeo.Definition{
		New:     newSubDiagram,
		Inputs:  []dipeo.Handle{{Name: dipeo.DefaultHandle}},
		Outputs: []string{dipeo.DefaultHandle},
	})
	return reg
}

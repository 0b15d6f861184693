package dipeo

import (
	"fmt"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/registry"
)

// ServiceRegistry is the dependency container handlers resolve their
// collaborators from. It is populated before compilation, read-mostly
// afterwards, and safe for concurrent resolution.
//
// Services are registered under a name and resolved with the generic
// Resolve function, which enforces the expected type:
//
//	services := dipeo.NewServiceRegistry().
//	    Provide("model", myModel).
//	    Provide("http", httpClient)
//
//	m, err := dipeo.Resolve[model.Model](services, "model")
type ServiceRegistry struct {
	reg *registry.Registry[string, any]
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{reg: registry.New[string, any]()}
}

// Provide registers a service under the given name.
// Returns the registry for method chaining. Panics on an empty name or
// nil service; both are programmer errors.
func (s *ServiceRegistry) Provide(name string, svc any) *ServiceRegistry {
	if name == "" {
		panic("dipeo: service name cannot be empty")
	}
	if svc == nil {
		panic(fmt.Sprintf("dipeo: service %q cannot be nil", name))
	}
	s.reg.Register(name, svc)
	return s
}

// Get returns the raw service for a name and whether it exists.
func (s *ServiceRegistry) Get(name string) (any, bool) {
	return s.reg.Get(name)
}

// Has reports whether a service is registered under the given name.
func (s *ServiceRegistry) Has(name string) bool {
	return s.reg.Has(name)
}

// Names returns all registered service names. The order is not guaranteed.
func (s *ServiceRegistry) Names() []string {
	return s.reg.Keys()
}

// Resolve returns the service registered under name as type T.
// It fails when the service is missing or has a different type, so a
// handler's dependency mistakes surface before the handler runs.
func Resolve[T any](s *ServiceRegistry, name string) (T, error) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, fmt.Errorf("service %q not registered", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service %q has type %T, not %T", name, v, zero)
	}
	return t, nil
}

// MustResolve is Resolve panicking on failure. Use it in handler
// factories where a missing dependency means a wiring bug.
func MustResolve[T any](s *ServiceRegistry, name string) T {
	t, err := Resolve[T](s, name)
	if err != nil {
		panic("dipeo: " + err.Error())
	}
	return t
}

package domain

// AggregateID identifies one aggregate instance. Opaque to the core.
type AggregateID string

// AggregateType identifies the kind of aggregate. Together with the
// AggregateID it keys an event stream.
type AggregateType string

// EventName names a domain event within its aggregate type.
type EventName string

// CommandName names a command within its aggregate type.
type CommandName string

// AgentType classifies who caused a change.
type AgentType string

const (
	AgentTypeSystem    AgentType = "SYSTEM"
	AgentTypeUser      AgentType = "USER"
	AgentTypeAnonymous AgentType = "ANONYMOUS"
)

// Agent is the actor a change is attributed to. It is passed explicitly
// through every dispatch instead of being looked up from ambient state.
type Agent struct {
	Type AgentType
	ID   string
}

// SystemAgent returns the agent used for internally triggered changes.
func SystemAgent() Agent {
	return Agent{Type: AgentTypeSystem, ID: "SYSTEM"}
}

// AnonymousAgent returns the agent used when no actor is known.
func AnonymousAgent() Agent {
	return Agent{Type: AgentTypeAnonymous, ID: "ANONYMOUS"}
}

// UserAgent returns an agent for the given user ID.
func UserAgent(id string) Agent {
	return Agent{Type: AgentTypeUser, ID: id}
}

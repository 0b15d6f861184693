package dipeo

import (
	"time"
)

// Status is a node's per-iteration execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusMaxIter   Status = "max_iter_reached"
)

// Terminal reports whether the status is one a node never leaves.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusMaxIter:
		return true
	}
	return false
}

// execKey identifies one iteration of one node. Execution state is keyed
// by the pair, not by node id alone, so loop history stays inspectable
// by downstream readiness checks.
type execKey struct {
	NodeID    string
	Iteration int
}

// execRecord is the state of one (node, iteration) entry. Transitions
// are monotonic per entry; a fresh iteration opens a new entry.
type execRecord struct {
	status   Status
	envelope *Envelope
	started  time.Time
	finished time.Time
}

// connState is the resolution of one incoming connection for a
// readiness check.
type connState int

const (
	connPending connState = iota
	connSatisfied
	connNotTaken // branch not taken, or source skipped on a branch path
	connBlocked  // source failed or was blocked; forces a skip
)

// scheduler is the per-node state machine behind the engine's tick loop.
// It is not safe for concurrent use; the engine owns it and touches it
// only between waves.
type scheduler struct {
	d *DiagramModel

	records     map[execKey]*execRecord
	recordOrder []execKey

	iterations map[string]int       // completed (or failed) iterations per node
	latest     map[string]*Envelope // last produced envelope per node
	final      map[string]Status    // set once a node can never run again
	running    map[string]bool
	blocked    map[string]bool // skipped because of an upstream failure

	connTaken map[int]*bool         // nil = undetermined
	consumed  map[string]map[int]int // node -> conn index -> source iteration consumed
}

func newScheduler(d *DiagramModel) *scheduler {
	return &scheduler{
		d:          d,
		records:    make(map[execKey]*execRecord),
		iterations: make(map[string]int),
		latest:     make(map[string]*Envelope),
		final:      make(map[string]Status),
		running:    make(map[string]bool),
		blocked:    make(map[string]bool),
		connTaken:  make(map[int]*bool),
		consumed:   make(map[string]map[int]int),
	}
}

// resolve classifies one incoming connection for node id at iteration it
// (it == 0 means the node has not run yet).
func (s *scheduler) resolve(ci int, id string, it int) connState {
	conn := s.d.connections[ci]
	src := conn.From.Node

	// Back edges are not required for a node's first iteration;
	// they only matter once the loop is live.
	if s.d.loopback[ci] && it == 0 {
		return connNotTaken
	}

	taken := s.connTaken[ci]

	switch s.final[src] {
	case StatusFailed:
		return connBlocked
	case StatusSkipped:
		if s.blocked[src] {
			return connBlocked
		}
		return connNotTaken
	case StatusCompleted, StatusMaxIter:
		// Branch resolution is final once the source has settled: a
		// false branch can never flip back.
		if taken == nil || !*taken {
			return connNotTaken
		}
		if s.d.cyclic[ci] {
			if s.iterations[src] > s.consumed[id][ci] {
				return connSatisfied
			}
			return connNotTaken
		}
		if s.latest[src] != nil {
			return connSatisfied
		}
		return connNotTaken
	}

	// Source still live. Inside a cycle, freshness drives readiness: once
	// the source has produced an iteration this node has not consumed,
	// that iteration's branch decision is fixed — the edge is satisfied
	// when taken and definitively not taken otherwise. A later source
	// iteration may flip the branch, but it will also bump the freshness
	// counter and be judged on its own. An edge with no fresh iteration
	// stays pending. Acyclic targets always wait for the source to
	// settle, so a loop's downstream sees only the final iteration's
	// envelope.
	if s.d.cyclic[ci] && taken != nil && s.iterations[src] > s.consumed[id][ci] {
		if *taken {
			return connSatisfied
		}
		return connNotTaken
	}
	return connPending
}

// readiness outcome for one node in one pass.
type nodeReadiness int

const (
	notReady nodeReadiness = iota
	isReady
	allNotTaken
	isBlocked
)

func (s *scheduler) inputReadiness(id string, it int) nodeReadiness {
	idxs := s.d.incoming[id]
	if len(idxs) == 0 {
		return isReady
	}

	anySatisfied := false
	anyPending := false
	anyBlocked := false
	counted := 0
	for _, ci := range idxs {
		// Back edges don't vote on the first iteration; a node whose
		// only inputs are back edges is the entry of its cycle.
		if s.d.loopback[ci] && it == 0 {
			continue
		}
		counted++
		switch s.resolve(ci, id, it) {
		case connSatisfied:
			anySatisfied = true
		case connPending:
			anyPending = true
		case connBlocked:
			anyBlocked = true
		}
	}

	switch {
	case anyBlocked:
		return isBlocked
	case anyPending:
		return notReady
	case anySatisfied, counted == 0:
		return isReady
	default:
		return allNotTaken
	}
}

// hasFreshLoopInput reports whether any in-cycle incoming connection has
// an unconsumed, taken source iteration — the re-arm signal.
func (s *scheduler) hasFreshLoopInput(id string) bool {
	for _, ci := range s.d.incoming[id] {
		if !s.d.cyclic[ci] {
			continue
		}
		t := s.connTaken[ci]
		if t != nil && *t && s.iterations[s.d.connections[ci].From.Node] > s.consumed[id][ci] {
			return true
		}
	}
	return false
}

// canRearmLater reports whether a node that has already run could still
// be re-armed: some in-cycle input is taken (or undetermined) and its
// source has not settled.
func (s *scheduler) canRearmLater(id string) bool {
	for _, ci := range s.d.incoming[id] {
		if !s.d.cyclic[ci] {
			continue
		}
		if t := s.connTaken[ci]; t != nil && !*t {
			continue
		}
		if s.final[s.d.connections[ci].From.Node] == "" {
			return true
		}
	}
	return false
}

// ready runs the readiness fixpoint and returns the nodes that may be
// dispatched now. It also settles nodes along the way: branch skips,
// failure blocks, iteration exhaustion, and loop completion.
func (s *scheduler) ready() []string {
	var out []string
	picked := make(map[string]bool)

	changed := true
	for changed {
		changed = false
		for _, id := range s.d.order {
			if s.final[id] != "" || s.running[id] || picked[id] {
				continue
			}
			node := s.d.nodes[id]
			it := s.iterations[id]

			if it >= 1 {
				if !s.hasFreshLoopInput(id) {
					if !s.canRearmLater(id) {
						s.final[id] = StatusCompleted
						changed = true
					}
					continue
				}
				// Re-arm requested: a fresh iteration wants to open.
				if it >= node.MaxIteration {
					s.final[id] = StatusMaxIter
					s.record(execKey{id, it + 1}, StatusMaxIter, s.latest[id])
					changed = true
					continue
				}
			}

			switch s.inputReadiness(id, it) {
			case isReady:
				if it == 0 && node.MaxIteration < 1 {
					continue
				}
				picked[id] = true
				out = append(out, id)
			case allNotTaken:
				s.final[id] = StatusSkipped
				s.record(execKey{id, it + 1}, StatusSkipped, nil)
				changed = true
			case isBlocked:
				s.final[id] = StatusSkipped
				s.blocked[id] = true
				s.record(execKey{id, it + 1}, StatusSkipped, nil)
				changed = true
			}
		}
	}
	return out
}

// start transitions a node to RUNNING for its next iteration, records
// which source iterations it consumes, and snapshots its input
// envelopes converted per connection content type.
func (s *scheduler) start(id string) (iteration int, inputs map[string]*Envelope) {
	it := s.iterations[id] + 1
	s.running[id] = true

	key := execKey{id, it}
	rec := &execRecord{status: StatusRunning, started: time.Now().UTC()}
	s.records[key] = rec
	s.recordOrder = append(s.recordOrder, key)

	if s.consumed[id] == nil {
		s.consumed[id] = make(map[int]int)
	}
	// Snapshot inputs before advancing the consumption counters: resolve
	// compares iterations[src] against consumed, so updating first would
	// make every fresh in-cycle envelope look already consumed.
	inputs = make(map[string]*Envelope)
	for _, ci := range s.d.incoming[id] {
		conn := s.d.connections[ci]
		src := conn.From.Node
		if s.resolve(ci, id, it-1) == connSatisfied {
			inputs[conn.To.Handle] = convertContent(s.latest[src], conn.Content)
		}
		s.consumed[id][ci] = s.iterations[src]
	}
	return it, inputs
}

// complete records a successful iteration and resolves the node's
// outgoing connections: branch labels for branching nodes, taken
// everywhere else.
func (s *scheduler) complete(id string, env *Envelope, branching bool) {
	delete(s.running, id)
	it := s.iterations[id] + 1
	s.iterations[id] = it
	s.latest[id] = env

	if rec := s.records[execKey{id, it}]; rec != nil {
		rec.status = StatusCompleted
		rec.envelope = env
		rec.finished = time.Now().UTC()
	}

	for _, ci := range s.d.outgoing[id] {
		taken := true
		if branching {
			taken = s.d.connections[ci].Branch == env.Branch
		}
		t := taken
		s.connTaken[ci] = &t
	}
}

// fail records a failed iteration. The node settles FAILED and blocks
// its strict downstream; the error envelope stays inspectable.
func (s *scheduler) fail(id string, env *Envelope) {
	delete(s.running, id)
	it := s.iterations[id] + 1
	s.iterations[id] = it
	s.latest[id] = env
	s.final[id] = StatusFailed

	if rec := s.records[execKey{id, it}]; rec != nil {
		rec.status = StatusFailed
		rec.envelope = env
		rec.finished = time.Now().UTC()
	}
}

// record stores a synthetic terminal entry (skip, max-iteration) so the
// result carries a row for nodes that never ran.
func (s *scheduler) record(key execKey, st Status, env *Envelope) {
	rec := &execRecord{status: st, envelope: env, started: time.Now().UTC(), finished: time.Now().UTC()}
	s.records[key] = rec
	s.recordOrder = append(s.recordOrder, key)
}

// hasRunning reports whether any node is mid-flight.
func (s *scheduler) hasRunning() bool { return len(s.running) > 0 }

// armed returns the ids of nodes that are running or still undecided.
// Used for runaway-loop diagnostics.
func (s *scheduler) armed() []string {
	var ids []string
	for _, id := range s.d.order {
		if s.running[id] || s.final[id] == "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// settleRemaining marks every undecided node SKIPPED at halt. A node
// that ran at least once settles COMPLETED.
func (s *scheduler) settleRemaining() {
	for _, id := range s.d.order {
		if s.final[id] != "" {
			continue
		}
		if s.iterations[id] >= 1 {
			s.final[id] = StatusCompleted
		} else {
			s.final[id] = StatusSkipped
			s.record(execKey{id, 1}, StatusSkipped, nil)
		}
	}
}

// finalStatus returns the settled status for a node.
func (s *scheduler) finalStatus(id string) Status {
	if st, ok := s.final[id]; ok {
		return st
	}
	if s.running[id] {
		return StatusRunning
	}
	return StatusPending
}

// convertContent derives the envelope a connection delivers from the
// source envelope and the connection's declared content type.
func convertContent(env *Envelope, ct ContentType) *Envelope {
	if env == nil || env.IsError || ct != ContentRawText {
		return env
	}
	derived := *env
	derived.Body = env.Text()
	derived.Representations = nil
	return &derived
}

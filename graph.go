package agentos

import "fmt"

// taskGraph is the in-memory registry of all known tasks and the sibling
// dependency edges between them. It is a plain data structure: every method
// must be called with the owning Scheduler's lock held.
type taskGraph struct {
	tasks map[string]*Task
}

func newTaskGraph() *taskGraph {
	return &taskGraph{tasks: make(map[string]*Task)}
}

// add registers a task, rejecting duplicate IDs.
func (g *taskGraph) add(t *Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("duplicate task id %s", t.ID)
	}
	g.tasks[t.ID] = t
	return nil
}

// get looks a task up by ID.
func (g *taskGraph) get(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// len returns the number of registered tasks.
func (g *taskGraph) len() int {
	return len(g.tasks)
}

// link atomically attaches subtasks to a parent: sibling names are checked
// for uniqueness, name-based dependency references are resolved to direct
// references, and the sibling dependency relation is verified acyclic.
// On any validation error nothing is mutated and no subtask is registered.
func (g *taskGraph) link(parent *Task, subtasks []*Task) error {
	byName := make(map[string]*Task, len(subtasks))
	for _, st := range subtasks {
		if _, dup := byName[st.Name]; dup {
			return fmt.Errorf("duplicate subtask name %q", st.Name)
		}
		if _, exists := g.tasks[st.ID]; exists {
			return fmt.Errorf("duplicate task id %s", st.ID)
		}
		byName[st.Name] = st
	}

	// Resolve name references. Dependencies may only name siblings.
	resolved := make(map[string][]*Task, len(subtasks))
	for _, st := range subtasks {
		for _, depName := range st.dependencyNames {
			if depName == st.Name {
				return fmt.Errorf("subtask %q depends on itself", st.Name)
			}
			dep, ok := byName[depName]
			if !ok {
				return fmt.Errorf("subtask %q depends on unknown sibling %q", st.Name, depName)
			}
			resolved[st.Name] = append(resolved[st.Name], dep)
		}
	}

	if err := verifyAcyclic(subtasks, resolved); err != nil {
		return err
	}

	// Validation passed; attach everything.
	for _, st := range subtasks {
		st.Parent = parent
		for _, dep := range resolved[st.Name] {
			st.Dependencies = append(st.Dependencies, dep)
			st.waitingDeps[dep.ID] = dep
			dep.dependents = append(dep.dependents, st)
		}
		parent.Subtasks = append(parent.Subtasks, st)
		parent.waitingSubtasks[st.ID] = struct{}{}
		g.tasks[st.ID] = st
	}
	return nil
}

// verifyAcyclic runs Kahn's algorithm over the proposed sibling set.
func verifyAcyclic(subtasks []*Task, deps map[string][]*Task) error {
	indegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		indegree[st.Name] = len(deps[st.Name])
		for _, dep := range deps[st.Name] {
			dependents[dep.Name] = append(dependents[dep.Name], st.Name)
		}
	}

	var queue []string
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(subtasks) {
		return fmt.Errorf("dependency cycle among subtasks")
	}
	return nil
}

// resolveDependency removes a finished task from every dependent sibling's
// waiting set and returns the siblings whose waiting set is now empty.
func (g *taskGraph) resolveDependency(finished *Task) []*Task {
	var ready []*Task
	for _, dep := range finished.dependents {
		delete(dep.waitingDeps, finished.ID)
		if len(dep.waitingDeps) == 0 {
			ready = append(ready, dep)
		}
	}
	return ready
}

// waiters returns the dependent siblings still waiting on the given task.
// Used for failure propagation, where waiting tasks fail rather than run.
func (g *taskGraph) waiters(t *Task) []*Task {
	var out []*Task
	for _, dep := range t.dependents {
		if _, waiting := dep.waitingDeps[t.ID]; waiting {
			out = append(out, dep)
		}
	}
	return out
}

// markParentProgress removes a terminal subtask from its parent's waiting
// set. Returns the parent iff this emptied the set (the parent can close).
func (g *taskGraph) markParentProgress(finished *Task) *Task {
	p := finished.Parent
	if p == nil {
		return nil
	}
	delete(p.waitingSubtasks, finished.ID)
	if len(p.waitingSubtasks) == 0 {
		return p
	}
	return nil
}

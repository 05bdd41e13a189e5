package ast

// Workflow helper methods

// GetStep retrieves a step by ID, searching parallel children as well.
func (w *Workflow) GetStep(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
		for _, child := range step.Steps {
			if child.ID == id {
				return child, true
			}
		}
	}
	return nil, false
}

// ListStepIDs returns the ids of the top-level steps in definition order.
func (w *Workflow) ListStepIDs() []string {
	ids := make([]string, len(w.Steps))
	for i, step := range w.Steps {
		ids[i] = step.ID
	}
	return ids
}

// AllSteps returns every step in the workflow in definition order, with
// parallel children following their parent.
func (w *Workflow) AllSteps() []*Step {
	var all []*Step
	for _, step := range w.Steps {
		all = append(all, step)
		all = append(all, step.Steps...)
	}
	return all
}

// AllStepIDs returns the ids of every step in the workflow, including
// parallel children.
func (w *Workflow) AllStepIDs() []string {
	steps := w.AllSteps()
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return ids
}

// ReferencedSet returns the set of step ids named by any routing field of any
// step in the workflow, including fields on parallel children.
func (w *Workflow) ReferencedSet() map[string]bool {
	referenced := make(map[string]bool)
	for _, step := range w.AllSteps() {
		for _, target := range step.RoutingTargets() {
			referenced[target] = true
		}
	}
	return referenced
}

// EntryStep returns the step execution begins with: the first top-level step
// not named by any routing field of any other step. When every step is
// referenced, the first step in definition order wins.
func (w *Workflow) EntryStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}

	referenced := w.ReferencedSet()
	for _, step := range w.Steps {
		if !referenced[step.ID] {
			return step
		}
	}
	return w.Steps[0]
}

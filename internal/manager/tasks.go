package manager

import (
	"studycore/internal/httpapi"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

func (m *Manager) Tasks() []types.Task {
	ts := m.queue.Tasks()
	out := make([]types.Task, len(ts))
	for i, t := range ts {
		out[i] = taskView(t)
	}
	return out
}

func (m *Manager) Task(id string) (types.Task, error) {
	t, ok := m.queue.Get(id)
	if !ok {
		return types.Task{}, tasks.ErrTaskNotFound
	}
	return taskView(t), nil
}

// CancelTask cancels a pending task; running and finished tasks conflict.
func (m *Manager) CancelTask(id string) error {
	if m.queue.Cancel(id) {
		return nil
	}
	t, ok := m.queue.Get(id)
	if !ok {
		return tasks.ErrTaskNotFound
	}
	return httpapi.Conflict("task " + id + " is " + string(t.Status))
}

func (m *Manager) ClearTasks() int { return m.queue.ClearCompleted() }

package manager

import (
	"errors"

	"llmbridge/pkg/types"
)

// Release removes the instance behind h and closes it. A generation running
// on it fails with InvalidHandle.
func (m *Manager) Release(h types.Handle) (bool, error) {
	m.mu.Lock()
	inst := m.instances[h]
	if inst == nil {
		m.mu.Unlock()
		return false, types.ErrInvalidHandle(h)
	}
	delete(m.instances, h)
	n := len(m.instances)
	m.mu.Unlock()

	m.releasedTotal.Add(1)
	loadedModels.Set(float64(n))
	if err := inst.Close(); err != nil {
		m.log.Warn().Err(err).Int64("handle", int64(h)).Msg("engine close failed")
	}
	m.log.Info().Int64("handle", int64(h)).Msg("model released")
	return true, nil
}

// Close releases every instance and rejects further creates.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	insts := m.instances
	m.instances = make(map[types.Handle]*Instance)
	m.mu.Unlock()

	var errs []error
	for _, inst := range insts {
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
		m.releasedTotal.Add(1)
	}
	loadedModels.Set(0)
	return errors.Join(errs...)
}

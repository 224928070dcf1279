package manager

import (
	"sort"
	"time"

	"llmbridge/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.RUnlock()

	resp := types.StatusResponse{
		Instances:      make([]types.InstanceStatus, 0, len(insts)),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		CreatedTotal:   m.createdTotal.Load(),
		ReleasedTotal:  m.releasedTotal.Load(),
	}
	for _, inst := range insts {
		resp.Instances = append(resp.Instances, inst.status())
	}
	sort.Slice(resp.Instances, func(a, b int) bool { return resp.Instances[a].Handle < resp.Instances[b].Handle })
	return resp
}

func (i *Instance) status() types.InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return types.InstanceStatus{
		Handle:        i.Handle,
		Source:        i.Config.Source.String(),
		ModelPath:     i.ModelPath,
		State:         string(i.state),
		Backend:       i.Backend.String(),
		VisionEnabled: i.Config.Params.EnableVisionModality,
		Generations:   i.generations,
		LastUsed:      i.lastUsed.Unix(),
	}
}

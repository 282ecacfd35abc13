package docker

import (
	"encoding/json"
	"io"
)

// Usage is a container resource sample.
type Usage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes int64   `json:"memory_bytes"`
	MemoryLimit int64   `json:"memory_limit"`
	NetworkRx   int64   `json:"network_rx"`
	NetworkTx   int64   `json:"network_tx"`
}

type statsJSON struct {
	CPUStats    cpuStats                `json:"cpu_stats"`
	PreCPUStats cpuStats                `json:"precpu_stats"`
	MemoryStats memoryStats             `json:"memory_stats"`
	Networks    map[string]networkStats `json:"networks"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
	SystemCPUUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs     uint64 `json:"online_cpus"`
}

type memoryStats struct {
	Usage uint64 `json:"usage"`
	Limit uint64 `json:"limit"`
}

type networkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

func decodeUsage(r io.Reader) (Usage, error) {
	var s statsJSON
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Usage{}, err
	}
	u := Usage{
		CPUPercent:  cpuPercent(s),
		MemoryBytes: int64(s.MemoryStats.Usage),
		MemoryLimit: int64(s.MemoryStats.Limit),
	}
	for _, n := range s.Networks {
		u.NetworkRx += int64(n.RxBytes)
		u.NetworkTx += int64(n.TxBytes)
	}
	return u, nil
}

func cpuPercent(s statsJSON) float64 {
	if s.CPUStats.CPUUsage.TotalUsage <= s.PreCPUStats.CPUUsage.TotalUsage ||
		s.CPUStats.SystemCPUUsage <= s.PreCPUStats.SystemCPUUsage {
		return 0
	}
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage - s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemCPUUsage - s.PreCPUStats.SystemCPUUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostCollector exports the health of the Pi itself (CPU, RAM, the disk
// holding photos and database) on /metrics. Values are read on every
// scrape, there is no background ticker.
type HostCollector struct {
	diskPath string
	logger   *slog.Logger

	cpuPercent  func() ([]float64, error)
	memory      func() (*mem.VirtualMemoryStat, error)
	diskUsage   func(path string) (*disk.UsageStat, error)
	cpuDesc     *prometheus.Desc
	memUsedDesc *prometheus.Desc
	memTotDesc  *prometheus.Desc
	diskUsed    *prometheus.Desc
	diskTotal   *prometheus.Desc
}

// NewHostCollector measures the filesystem of diskPath.
func NewHostCollector(diskPath string, logger *slog.Logger) *HostCollector {
	return &HostCollector{
		diskPath: diskPath,
		logger:   logger,

		// Interval 0 compares with the previous call, so a scrape never
		// sleeps. The first scrape after start reports 0.
		cpuPercent: func() ([]float64, error) { return cpu.Percent(0, false) },
		memory:     mem.VirtualMemory,
		diskUsage:  disk.Usage,

		cpuDesc: prometheus.NewDesc("serversure_host_cpu_percent",
			"CPU load of the host, all cores, 0-100.", nil, nil),
		memUsedDesc: prometheus.NewDesc("serversure_host_memory_used_bytes",
			"RAM used by applications (total minus available).", nil, nil),
		memTotDesc: prometheus.NewDesc("serversure_host_memory_total_bytes",
			"Physical RAM of the host.", nil, nil),
		diskUsed: prometheus.NewDesc("serversure_host_disk_used_bytes",
			"Used space on the photo filesystem.", []string{"path"}, nil),
		diskTotal: prometheus.NewDesc("serversure_host_disk_total_bytes",
			"Size of the photo filesystem.", []string{"path"}, nil),
	}
}

func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuDesc
	ch <- c.memUsedDesc
	ch <- c.memTotDesc
	ch <- c.diskUsed
	ch <- c.diskTotal
}

// Collect skips a series whose reading failed; the others are still
// exported.
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	if pct, err := c.cpuPercent(); err == nil && len(pct) > 0 {
		ch <- prometheus.MustNewConstMetric(c.cpuDesc, prometheus.GaugeValue, pct[0])
	} else {
		c.logger.Debug("Failed to read CPU stats", "error", err)
	}

	if vm, err := c.memory(); err == nil {
		// Linux uses free RAM as file cache, so Used would look almost full.
		// Total - Available is what applications really hold.
		ch <- prometheus.MustNewConstMetric(c.memUsedDesc, prometheus.GaugeValue, float64(vm.Total-vm.Available))
		ch <- prometheus.MustNewConstMetric(c.memTotDesc, prometheus.GaugeValue, float64(vm.Total))
	} else {
		c.logger.Debug("Failed to read RAM stats", "error", err)
	}

	if du, err := c.diskUsage(c.diskPath); err == nil {
		ch <- prometheus.MustNewConstMetric(c.diskUsed, prometheus.GaugeValue, float64(du.Used), c.diskPath)
		ch <- prometheus.MustNewConstMetric(c.diskTotal, prometheus.GaugeValue, float64(du.Total), c.diskPath)
	} else {
		c.logger.Debug("Failed to read disk stats", "path", c.diskPath, "error", err)
	}
}

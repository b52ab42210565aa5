/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package systemcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

const Name = "system_check"

const (
	ActionCPU      plugin.Action = "cpu"
	ActionMemory   plugin.Action = "memory"
	ActionDisk     plugin.Action = "disk"
	ActionServices plugin.Action = "services"
	ActionAll      plugin.Action = "all"
)

var DefaultServices = []string{"nginx", "apache2", "mysql", "postgresql", "redis", "docker", "kubelet"}

type CPU struct {
	UsagePercent float64    `json:"usage_percent" yaml:"usage_percent"`
	Cores        int        `json:"cores" yaml:"cores"`
	LoadAverage  [3]float64 `json:"load_average" yaml:"load_average"`
}

type Memory struct {
	TotalKB      uint64  `json:"total_kb" yaml:"total_kb"`
	UsedKB       uint64  `json:"used_kb" yaml:"used_kb"`
	AvailableKB  uint64  `json:"available_kb" yaml:"available_kb"`
	UsagePercent float64 `json:"usage_percent" yaml:"usage_percent"`
}

type Disk struct {
	Filesystem     string  `json:"filesystem" yaml:"filesystem"`
	TotalBytes     uint64  `json:"total_bytes" yaml:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes" yaml:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes" yaml:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent" yaml:"usage_percent"`
}

type Service struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
	Active bool   `json:"active" yaml:"active"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Report struct {
	CPU       CPU                `json:"cpu" yaml:"cpu"`
	Memory    Memory             `json:"memory" yaml:"memory"`
	Disk      map[string]Disk    `json:"disk" yaml:"disk"`
	Services  map[string]Service `json:"services" yaml:"services"`
	Timestamp time.Time          `json:"timestamp" yaml:"timestamp"`
}

// StatFS reports block counts for the filesystem mounted at path.
type StatFS func(path string) (total, available uint64, err error)

// ServiceProbe reports whether a systemd unit is active.
type ServiceProbe func(ctx context.Context, name string) (bool, error)

// Plugin checks local CPU, memory, disk and service health.
type Plugin struct {
	plugin.Base

	procRoot string
	pid      int
	statfs   StatFS
	services ServiceProbe
	logger   *logging.Logger
	now      func() time.Time
}

type Option func(*Plugin)

// WithProcRoot reads proc files from root instead of /proc.
func WithProcRoot(root string) Option {
	return func(p *Plugin) {
		p.procRoot = root
	}
}

// WithMountsOf reads mountinfo of pid instead of the current process.
func WithMountsOf(pid int) Option {
	return func(p *Plugin) {
		p.pid = pid
	}
}

func WithStatFS(fn StatFS) Option {
	return func(p *Plugin) {
		p.statfs = fn
	}
}

func WithServiceProbe(fn ServiceProbe) Option {
	return func(p *Plugin) {
		p.services = fn
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Check system resources (CPU, memory, disk, services)", "1.0.0",
			ActionCPU, ActionMemory, ActionDisk, ActionServices, ActionAll),
		procRoot: procfs.DefaultMountPoint,
		statfs:   statfs,
		services: systemctlActive,
		logger:   logger,
		now:      time.Now,
	}
	if cfg != nil && cfg.GetString(config.KeyProcRoot) != "" {
		p.procRoot = cfg.GetString(config.KeyProcRoot)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Available(context.Context) bool {
	_, err := os.Stat(p.procRoot)
	return err == nil
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	switch action {
	case ActionCPU:
		return p.CPU()
	case ActionMemory:
		return p.Memory()
	case ActionDisk:
		return p.Disk(ctx)
	case ActionServices:
		return p.Services(ctx, opts.GetStrings("services")), nil
	case ActionAll:
		return p.All(ctx, opts.GetStrings("services"))
	default:
		return nil, p.UnknownAction(action)
	}
}

func (p *Plugin) fs() (procfs.FS, error) {
	fs, err := procfs.NewFS(p.procRoot)
	if err != nil {
		return procfs.FS{}, fmt.Errorf("open %s: %w", p.procRoot, err)
	}
	return fs, nil
}

// CPU reports the busy share of CPU time since boot.
func (p *Plugin) CPU() (CPU, error) {
	fs, err := p.fs()
	if err != nil {
		return CPU{}, err
	}
	stat, err := fs.Stat()
	if err != nil {
		return CPU{}, fmt.Errorf("read stat: %w", err)
	}
	load, err := fs.LoadAvg()
	if err != nil {
		return CPU{}, fmt.Errorf("read loadavg: %w", err)
	}

	c := stat.CPUTotal
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	return CPU{
		UsagePercent: percent(total-c.Idle, total),
		Cores:        runtime.NumCPU(),
		LoadAverage:  [3]float64{load.Load1, load.Load5, load.Load15},
	}, nil
}

func (p *Plugin) Memory() (Memory, error) {
	fs, err := p.fs()
	if err != nil {
		return Memory{}, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return Memory{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil {
		return Memory{}, errors.New("meminfo lacks MemTotal or MemAvailable")
	}

	total, available := *mi.MemTotal, *mi.MemAvailable
	used := total - min(available, total)
	return Memory{
		TotalKB:      total,
		UsedKB:       used,
		AvailableKB:  available,
		UsagePercent: percent(float64(used), float64(total)),
	}, nil
}

// Disk reports usage of every absolute mount point. Mounts that cannot be
// inspected are logged and skipped.
func (p *Plugin) Disk(ctx context.Context) (map[string]Disk, error) {
	fs, err := p.fs()
	if err != nil {
		return nil, err
	}
	var proc procfs.Proc
	if p.pid > 0 {
		proc, err = fs.Proc(p.pid)
	} else {
		proc, err = fs.Self()
	}
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	mounts, err := proc.MountInfo()
	if err != nil {
		return nil, fmt.Errorf("read mountinfo: %w", err)
	}

	disks := make(map[string]Disk)
	for _, m := range mounts {
		if !strings.HasPrefix(m.MountPoint, "/") {
			continue
		}
		if _, seen := disks[m.MountPoint]; seen {
			continue
		}
		total, available, err := p.statfs(m.MountPoint)
		if err != nil {
			p.logger.Warn(ctx, "Failed to check disk usage",
				slog.String("mount_point", m.MountPoint),
				logging.Err(err),
			)
			continue
		}
		if total == 0 {
			continue
		}
		used := total - min(available, total)
		disks[m.MountPoint] = Disk{
			Filesystem:     m.Source,
			TotalBytes:     total,
			UsedBytes:      used,
			AvailableBytes: available,
			UsagePercent:   percent(float64(used), float64(total)),
		}
	}
	return disks, nil
}

// Services probes each unit; an empty list probes DefaultServices.
func (p *Plugin) Services(ctx context.Context, names []string) map[string]Service {
	if len(names) == 0 {
		names = DefaultServices
	}
	out := make(map[string]Service, len(names))
	for _, name := range names {
		active, err := p.services(ctx, name)
		svc := Service{Name: name, Status: "stopped", Active: active}
		switch {
		case err != nil:
			svc.Status = "unknown"
			svc.Error = err.Error()
		case active:
			svc.Status = "running"
		}
		out[name] = svc
	}
	return out
}

func (p *Plugin) All(ctx context.Context, services []string) (Report, error) {
	cpu, err := p.CPU()
	if err != nil {
		return Report{}, err
	}
	mem, err := p.Memory()
	if err != nil {
		return Report{}, err
	}
	disk, err := p.Disk(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{
		CPU:       cpu,
		Memory:    mem,
		Disk:      disk,
		Services:  p.Services(ctx, services),
		Timestamp: p.now().UTC(),
	}, nil
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(part/total*10000) / 100
}

func statfs(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

func systemctlActive(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", name).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

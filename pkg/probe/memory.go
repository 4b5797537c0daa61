package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/noxsuite/noxinstall/pkg/runner"
)

const bytesPerGB = 1024 * 1024 * 1024

// MemoryProbe is one way of reading total memory in GB.
type MemoryProbe struct {
	Name string
	Read func(ctx context.Context) (float64, error)
}

var errNotApplicable = errors.New("probe not applicable on this platform")

// defaultMemoryProbes returns the ordered chain: system call, OS command,
// pseudo-file, platform command.
func (p *Prober) defaultMemoryProbes() []MemoryProbe {
	return []MemoryProbe{
		{Name: "syscall", Read: func(context.Context) (float64, error) {
			b, err := systemMemoryBytes()
			if err != nil {
				return 0, err
			}
			return float64(b) / bytesPerGB, nil
		}},
		{Name: "wmic", Read: p.wmicMemory},
		{Name: "meminfo", Read: func(context.Context) (float64, error) {
			return readMeminfo("/proc/meminfo")
		}},
		{Name: "sysctl", Read: p.sysctlMemory},
	}
}

// detectMemory returns the first successful probe result, rounded to one
// decimal, or DefaultMemoryGB.
func (p *Prober) detectMemory(ctx context.Context) float64 {
	for _, probe := range p.memoryProbes {
		gb, err := safeRead(ctx, probe)
		if err == nil && gb > 0 {
			return math.Round(gb*10) / 10
		}
	}
	return DefaultMemoryGB
}

func safeRead(ctx context.Context, probe MemoryProbe) (gb float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			gb, err = 0, fmt.Errorf("memory probe %s panicked: %v", probe.Name, r)
		}
	}()
	return probe.Read(ctx)
}

func (p *Prober) wmicMemory(ctx context.Context) (float64, error) {
	if p.goos != "windows" {
		return 0, errNotApplicable
	}
	res, err := p.runner.Run(ctx, runner.Command{
		Name:    "wmic",
		Args:    []string{"computersystem", "get", "TotalPhysicalMemory", "/value"},
		Timeout: p.timeout,
	})
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key != "TotalPhysicalMemory" {
			continue
		}
		b, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, err
		}
		return float64(b) / bytesPerGB, nil
	}
	return 0, fmt.Errorf("wmic output has no TotalPhysicalMemory")
}

func (p *Prober) sysctlMemory(ctx context.Context) (float64, error) {
	if p.goos != "darwin" && p.goos != "freebsd" {
		return 0, errNotApplicable
	}
	res, err := p.runner.Run(ctx, runner.Command{
		Name:    "sysctl",
		Args:    []string{"-n", "hw.memsize"},
		Timeout: p.timeout,
	})
	if err != nil {
		return 0, err
	}
	b, err := strconv.ParseUint(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(b) / bytesPerGB, nil
}

func readMeminfo(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ParseMeminfo(f)
}

// ParseMeminfo extracts MemTotal from /proc/meminfo content, in GB.
func ParseMeminfo(r io.Reader) (float64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return float64(kb) / (1024 * 1024), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemTotal not found")
}

package probe

import (
	"context"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// managerCandidate maps an executable onto the package manager name the
// dependency resolver knows it by.
type managerCandidate struct {
	binary string
	name   string
}

// packageManagerTable lists candidate managers per OS in probe order.
var packageManagerTable = map[engine.OSType][]managerCandidate{
	engine.OSWindows: {
		{"choco", "chocolatey"},
		{"winget", "winget"},
		{"scoop", "scoop"},
	},
	engine.OSLinux: {
		{"apt-get", "apt-get"},
		{"apt", "apt"},
		{"yum", "yum"},
		{"dnf", "dnf"},
		{"pacman", "pacman"},
		{"zypper", "zypper"},
		{"emerge", "emerge"},
	},
	engine.OSMacOS: {
		{"brew", "homebrew"},
		{"port", "macports"},
	},
}

// universalManagers are probed on every OS after the OS-specific ones.
var universalManagers = []managerCandidate{
	{"pip", "pip"},
	{"conda", "conda"},
	{"snap", "snap"},
}

func (p *Prober) detectPackageManagers(ctx context.Context, osType engine.OSType) []string {
	candidates := append(append([]managerCandidate{}, packageManagerTable[osType]...), universalManagers...)

	found := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if p.toolAvailable(ctx, c.binary) {
			found = append(found, c.name)
		}
	}
	return found
}

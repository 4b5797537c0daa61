package wizard

import (
	"fmt"
	"strconv"
	"strings"
)

// Module is one installable NoxSuite module.
type Module struct {
	Name        string
	Description string
	Recommended bool
}

// Model is one selectable AI model.
type Model struct {
	Name        string
	Description string

	// Footprint is the advertised memory use, for display only.
	Footprint string
}

// Module selection presets.
const (
	PresetRecommended = "recommended"
	PresetAll         = "all"
	PresetMinimal     = "minimal"
)

// ModelFootprintGB is the memory estimate used per selected model.
const ModelFootprintGB = 4.0

// Modules is the module catalogue in display order.
var Modules = []Module{
	{"noxpanel", "Core web interface and dashboard", true},
	{"noxguard", "Security monitoring and threat detection", true},
	{"autoimport", "Automated data import and processing", true},
	{"powerlog", "Advanced logging and analysis", false},
	{"langflow-hub", "AI workflow management (requires AI features)", false},
	{"autocleaner", "Automatic cleanup and maintenance", false},
	{"heimnetz-scanner", "Network scanning and discovery", true},
	{"plugin-system", "Plugin management framework", true},
	{"update-manager", "Automatic updates and patching", true},
}

// Models is the AI model catalogue in display order.
var Models = []Model{
	{"mistral:7b-instruct", "General purpose, good balance", "~4GB RAM"},
	{"gemma:7b-it", "Instruction-tuned, fast responses", "~4GB RAM"},
	{"tinyllama", "Lightweight, quick setup", "~1GB RAM"},
	{"phi", "Microsoft model, efficient", "~2GB RAM"},
	{"llama2:7b", "Meta's foundation model", "~4GB RAM"},
	{"codellama:7b", "Code-specialized model", "~4GB RAM"},
}

// MinimalModules is the module set used by safe mode and the minimal preset.
var MinimalModules = []string{"noxpanel", "noxguard"}

// DefaultModels is the model set used by fast mode.
var DefaultModels = []string{"mistral:7b-instruct", "gemma:7b-it"}

// RecommendedModules returns the starred modules in catalogue order.
func RecommendedModules() []string {
	var out []string
	for _, m := range Modules {
		if m.Recommended {
			out = append(out, m.Name)
		}
	}
	return out
}

// AllModules returns every catalogue module.
func AllModules() []string {
	out := make([]string, len(Modules))
	for i, m := range Modules {
		out[i] = m.Name
	}
	return out
}

// ParseModuleSelection resolves a preset name or a 1-based index list such
// as "1,2,5". An empty selection means the recommended preset.
func ParseModuleSelection(selection string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(selection)) {
	case "", PresetRecommended:
		return RecommendedModules(), nil
	case PresetAll:
		return AllModules(), nil
	case PresetMinimal:
		return append([]string(nil), MinimalModules...), nil
	}

	indices, err := ParseIndexList(selection, len(Modules))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = Modules[idx].Name
	}
	return out, nil
}

// ParseModelSelection resolves a 1-based index list against Models.
func ParseModelSelection(selection string) ([]string, error) {
	indices, err := ParseIndexList(selection, len(Models))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = Models[idx].Name
	}
	return out, nil
}

// ParseIndexList parses a comma separated list of 1-based indices into
// 0-based ones. Out of range entries are dropped; an empty result is an error.
func ParseIndexList(selection string, n int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid selection %q: not a number", part)
		}
		if i < 1 || i > n {
			continue
		}
		out = append(out, i-1)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid selection %q: nothing selected", selection)
	}
	return out, nil
}

// RecommendedModelSelection suggests an index list for the host's memory.
func RecommendedModelSelection(memoryGB float64) string {
	switch {
	case memoryGB >= 16:
		return "1,2,4"
	case memoryGB >= 8:
		return "1,3"
	default:
		return "3"
	}
}

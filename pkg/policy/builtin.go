package policy

// Thresholds used by the built-in plan policies.
const (
	// AIMemoryFloorGB is the memory below which AI features are flagged as slow.
	AIMemoryFloorGB = 8

	// LargeFootprintGB is the estimated size above which a plan is flagged.
	LargeFootprintGB = 20
)

// GetBuiltinPolicies returns all built-in plan policies. All of them are
// warnings: they show up in the install preview but never block a plan.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		lowMemoryAIPolicy(),
		largeFootprintPolicy(),
		windowsPathSpacesPolicy(),
		windowsAdminPolicy(),
		unicodeSupportPolicy(),
	}
}

func lowMemoryAIPolicy() Policy {
	return Policy{
		Name:        "low-memory-ai",
		Description: "Warns when AI features are enabled on a host with little memory",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"ai", "resources"},
		Rego: `package noxsuite.policies.memory

import rego.v1

deny contains violation if {
	input.plan.enable_ai
	input.system.memory_gb < 8
	violation := {
		"code": "low_memory_ai",
		"message": "AI features may be slow with less than 8GB RAM",
		"severity": "warning",
	}
}`,
	}
}

func largeFootprintPolicy() Policy {
	return Policy{
		Name:        "large-footprint",
		Description: "Warns when the estimated installation size is large",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"disk", "resources"},
		Rego: `package noxsuite.policies.footprint

import rego.v1

deny contains violation if {
	input.estimated_size_gb > 20
	violation := {
		"code": "large_footprint",
		"message": sprintf("Large installation size: ~%vGB", [input.estimated_size_gb]),
		"severity": "warning",
	}
}`,
	}
}

func windowsPathSpacesPolicy() Policy {
	return Policy{
		Name:        "windows-path-spaces",
		Description: "Warns about install paths containing spaces on Windows",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"windows", "paths"},
		Rego: `package noxsuite.policies.paths

import rego.v1

deny contains violation if {
	input.system.os_type == "windows"
	contains(input.plan.install_directory, " ")
	violation := {
		"code": "windows_path_spaces",
		"message": "Path with spaces may cause Docker issues on Windows",
		"severity": "warning",
	}
}`,
	}
}

func windowsAdminPolicy() Policy {
	return Policy{
		Name:        "windows-admin",
		Description: "Warns when running on Windows without administrator rights",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"windows", "permissions"},
		Rego: `package noxsuite.policies.admin

import rego.v1

deny contains violation if {
	input.system.os_type == "windows"
	not input.system.permissions.elevated
	violation := {
		"code": "windows_admin",
		"message": "Some features may require administrator privileges",
		"severity": "warning",
	}
}`,
	}
}

func unicodeSupportPolicy() Policy {
	return Policy{
		Name:        "unicode-support",
		Description: "Warns when the console cannot render UTF-8",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"encoding"},
		Rego: `package noxsuite.policies.encoding

import rego.v1

deny contains violation if {
	not input.system.encoding.utf8
	violation := {
		"code": "unicode_support",
		"message": "Limited Unicode support detected - some display issues possible",
		"severity": "warning",
	}
}`,
	}
}

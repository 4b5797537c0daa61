package config

// ProductVersion is written into every generated document.
const ProductVersion = "1.0.0"

// NoxSuiteDocument is config/noxsuite.json.
type NoxSuiteDocument struct {
	Version      string              `json:"version"`
	Installation InstallationSection `json:"installation"`
	System       SystemSection       `json:"system"`
}

// InstallationSection describes what was installed and where.
type InstallationSection struct {
	Directory        string   `json:"directory"`
	Platform         string   `json:"platform"`
	Mode             string   `json:"mode"`
	InstalledModules []string `json:"installed_modules"`
	Features         Features `json:"features"`
	AIModels         []string `json:"ai_models"`
}

// Features mirrors the plan's feature flags.
type Features struct {
	AIEnabled     bool `json:"ai_enabled"`
	VoiceEnabled  bool `json:"voice_enabled"`
	MobileEnabled bool `json:"mobile_enabled"`
	DevMode       bool `json:"dev_mode"`
	AutoStart     bool `json:"auto_start"`
}

// SystemSection records the host the installation was made on.
type SystemSection struct {
	OSType         string  `json:"os_type"`
	Architecture   string  `json:"architecture"`
	RuntimeVersion string  `json:"runtime_version"`
	MemoryGB       float64 `json:"memory_gb"`
	CPUCores       int     `json:"cpu_cores"`
}

// DatabaseDocument is config/database.json.
type DatabaseDocument struct {
	Default  string          `json:"default"`
	Postgres PostgresSection `json:"postgres"`
	Redis    RedisSection    `json:"redis"`
}

// PostgresSection configures the main database container.
type PostgresSection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	DataDir  string `json:"data_dir"`
}

// RedisSection configures the cache container.
type RedisSection struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DataDir string `json:"data_dir"`
}

// NetworkDocument is config/network.json.
type NetworkDocument struct {
	Host   string         `json:"host"`
	Ports  map[string]int `json:"ports"`
	Docker DockerNetwork  `json:"docker"`
}

// DockerNetwork names the compose network.
type DockerNetwork struct {
	Network string `json:"network"`
}

// LoggingDocument is config/logging.json.
type LoggingDocument struct {
	Version  int    `json:"version"`
	Level    string `json:"level"`
	File     string `json:"file"`
	Format   string `json:"format"`
	MaxBytes int    `json:"max_bytes"`
	Backups  int    `json:"backups"`
}

// ModelsDocument is config/ai/models.json.
type ModelsDocument struct {
	Enabled  bool         `json:"enabled"`
	Runtime  string       `json:"runtime"`
	Endpoint string       `json:"endpoint"`
	Models   []ModelEntry `json:"models"`
}

// ModelEntry is one provisioned model.
type ModelEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ModuleDocument is config/modules/<name>.json.
type ModuleDocument struct {
	Name     string                 `json:"name"`
	Enabled  bool                   `json:"enabled"`
	Version  string                 `json:"version"`
	Settings map[string]interface{} `json:"settings"`
}

// ComposeFile is the subset of the compose format the installer writes.
type ComposeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]ComposeService `yaml:"services"`
	Networks map[string]ComposeNetwork `yaml:"networks,omitempty"`
}

// ComposeService is one compose service.
type ComposeService struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	EnvFile     []string          `yaml:"env_file,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Networks    []string          `yaml:"networks,omitempty"`
}

// ComposeNetwork is one compose network.
type ComposeNetwork struct {
	Driver string `yaml:"driver,omitempty"`
}

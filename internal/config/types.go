package config

// Config is the top-level configuration structure parsed from scanmux YAML.
type Config struct {
	DataDir  string              `yaml:"data_dir"`
	DBPath   string              `yaml:"db_path"`
	Server   Server              `yaml:"server"`
	Workers  Workers             `yaml:"workers"`
	Retry    Retry               `yaml:"retry"`
	Pool     Pool                `yaml:"pool"`
	Services []Service           `yaml:"services"`
	Tools    []Tool              `yaml:"tools"`
	Profiles map[string][]string `yaml:"profiles"`
}

// Server configures the JSON API listener.
type Server struct {
	Port int `yaml:"port"`
}

// Workers bounds subtask parallelism and the monitor loop.
type Workers struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	PerRunLimit   int    `yaml:"per_run_limit"`
	PollInterval  string `yaml:"poll_interval"`
}

// Retry configures the exponential backoff policy applied to analyzer calls.
type Retry struct {
	MaxRetries      int     `yaml:"max_retries"`
	BaseDelay       string  `yaml:"base_delay"`
	MaxDelay        string  `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
}

// Pool configures the analyzer connection pool.
type Pool struct {
	RequestTimeout      string `yaml:"request_timeout"`
	HealthCheckInterval string `yaml:"health_check_interval"`
}

// Service declares one backend analyzer service and its candidate endpoints.
type Service struct {
	Name      string   `yaml:"name"`
	Endpoints []string `yaml:"endpoints"`
}

// LocalService is the sentinel service name meaning "run in-process".
const LocalService = "local"

// Tool maps a tool identifier to the service that owns it. Tools with
// RequiresRuntime set are dropped by the downgrade policy when the container
// runtime for the target artifact fails to provision.
type Tool struct {
	Name            string   `yaml:"name"`
	Service         string   `yaml:"service"`
	Languages       []string `yaml:"languages"`
	RequiresRuntime bool     `yaml:"requires_runtime"`
}

// ToolByName returns the tool declaration for name, or nil if unknown.
func (c *Config) ToolByName(name string) *Tool {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i]
		}
	}
	return nil
}

// ServiceByName returns the service declaration for name, or nil if unknown.
func (c *Config) ServiceByName(name string) *Service {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}

// ToolServiceMap returns the tool→service mapping consumed by the planner.
// Tools with an empty service field map to the local sentinel.
func (c *Config) ToolServiceMap() map[string]string {
	m := make(map[string]string, len(c.Tools))
	for _, t := range c.Tools {
		svc := t.Service
		if svc == "" {
			svc = LocalService
		}
		m[t.Name] = svc
	}
	return m
}

// RuntimeTools returns the names of configured tools that require a live
// runtime environment.
func (c *Config) RuntimeTools() map[string]bool {
	m := make(map[string]bool)
	for _, t := range c.Tools {
		if t.RequiresRuntime {
			m[t.Name] = true
		}
	}
	return m
}

// ResolveProfile expands a named profile to its tool list. Returns nil if the
// profile is not defined.
func (c *Config) ResolveProfile(name string) []string {
	tools, ok := c.Profiles[name]
	if !ok {
		return nil
	}
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}

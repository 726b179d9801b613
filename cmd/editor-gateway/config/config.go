package config

import (
	"os"
	"time"

	"github.com/koding/multiconfig"
)

// Config defines editor gateway configuration
type Config struct {
	// upstream services
	PistonURL       string        `flagUsage:"specifies the piston execute endpoint" default:"https://emkc.org/api/v2/piston/execute"`
	PistonVersion   string        `flagUsage:"specifies the runtime version sent to piston" default:"*"`
	AnalysisURL     string        `flagUsage:"specifies the base url of the analysis service" default:"http://localhost:5000"`
	UpstreamTimeout time.Duration `flagUsage:"specifies timeout for a single upstream attempt" default:"30s"`
	UpstreamRetry   int           `flagUsage:"specifies extra attempts on upstream transport / server errors (0 or 1)" default:"0"`
	MaxResponseSize int64         `flagUsage:"specifies max upstream response size in bytes" default:"16777216"`

	// languages
	LanguageConf string `flagUsage:"specifies language table file (built-in table if empty)"`

	// server config
	HTTPAddr      string `flagUsage:"specifies the http binding address" default:":3000"`
	MonitorAddr   string `flagUsage:"specifies the metrics binding address" default:":3002"`
	EnableDebug   bool   `flagUsage:"enable debug endpoint"`
	EnableMetrics bool   `flagUsage:"enable promethus metrics endpoint"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "EG",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "EG",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	return cl.Load(c)
}

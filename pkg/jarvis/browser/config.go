package browser

// Config configures Chrome and the services the manager can open.
type Config struct {
	// ChromePath is the path to the Chrome/Chromium binary.
	// Auto-detected if empty.
	ChromePath string `yaml:"chrome_path"`

	// Headless runs the browser without a visible window (default: true).
	Headless bool `yaml:"headless"`

	// TimeoutSeconds is the max time for a single CDP command (default: 30).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// ViewportWidth is the browser viewport width (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`

	// ViewportHeight is the browser viewport height (default: 720).
	ViewportHeight int `yaml:"viewport_height"`

	// ExtraArgs are additional command-line arguments for Chrome.
	ExtraArgs []string `yaml:"extra_args"`

	// Services maps service name to its landing URL.
	Services map[string]string `yaml:"services"`
}

// Well-known service names.
const (
	ServiceWhatsApp = "whatsapp"
	ServiceSpotify  = "spotify"
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		TimeoutSeconds: 30,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Services: map[string]string{
			ServiceWhatsApp: "https://web.whatsapp.com/",
			ServiceSpotify:  "https://open.spotify.com/",
		},
	}
}

func (c Config) withDefaults() Config {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 720
	}
	if len(c.Services) == 0 {
		c.Services = DefaultConfig().Services
	}
	return c
}

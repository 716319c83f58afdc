package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	// BridgeBaseURL is the explicit base address of the session bridge
	// (e.g. "https://bridge.example.com:8443"). When empty, the page
	// origin passed at dial time is used instead.
	BridgeBaseURL string `envconfig:"BRIDGE_BASE_URL" yaml:"bridge_base_url" default:""`
	// BridgePath is appended to the base address to form the websocket
	// endpoint of the PTY bridge.
	BridgePath string `envconfig:"BRIDGE_PATH" yaml:"bridge_path" default:"/ws/ssh-pty"`
	// FileAPIBaseURL is the base address of the file-operations REST API.
	// When empty, the bridge base address is used.
	FileAPIBaseURL string `envconfig:"FILE_API_BASE_URL" yaml:"file_api_base_url" default:""`

	DataPath     string `envconfig:"DATA_PATH" yaml:"data_path" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path" default:"/app/data/termbridge.db"`
	LogPath      string `envconfig:"LOG_PATH" yaml:"log_path" default:"/app/data/termbridge.log"`

	// Terminal session settings
	DefaultCols        int           `envconfig:"DEFAULT_COLS" yaml:"default_cols" default:"80"`
	DefaultRows        int           `envconfig:"DEFAULT_ROWS" yaml:"default_rows" default:"24"`
	ResizeDebounce     time.Duration `envconfig:"RESIZE_DEBOUNCE" yaml:"resize_debounce" default:"250ms"`
	ScrollbackSize     int           `envconfig:"SCROLLBACK_SIZE" yaml:"scrollback_size" default:"1048576"`
	ConnectStallLimit  time.Duration `envconfig:"CONNECT_STALL_LIMIT" yaml:"connect_stall_limit" default:"2m"`
	JanitorSchedule    string        `envconfig:"JANITOR_SCHEDULE" yaml:"janitor_schedule" default:"@every 1m"`
	TerminalFontSize   int           `envconfig:"TERMINAL_FONT_SIZE" yaml:"terminal_font_size" default:"14"`
	TerminalBackground string        `envconfig:"TERMINAL_BACKGROUND" yaml:"terminal_background" default:"#000000"`
	TerminalForeground string        `envconfig:"TERMINAL_FOREGROUND" yaml:"terminal_foreground" default:"#ffffff"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMBRIDGE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// LoadFile merges YAML overrides from path into Cfg. A missing file is not
// an error so embedders can ship without one.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &Cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/radarview/internal/snapshot"
	"github.com/banshee-data/radarview/internal/units"
)

// ExampleConfigPath is the checked-in example configuration.
const ExampleConfigPath = "config/radarview.example.yaml"

// Documented defaults.
const (
	DefaultTitle              = "Radar Overview"
	DefaultRefreshInterval    = 300 * time.Millisecond
	DefaultHistoryPoints      = 60
	DefaultHistoryWindowMS    = 45000
	DefaultMaxTrail           = 40
	DefaultBaudRate           = 115200
	maxConfigFileSize         = 1 * 1024 * 1024 // 1MB
	defaultShowVelocityLabels = true
	defaultShowHistoryDetails = true
)

// AccentPalette is cycled for sensors without an explicit accent.
var AccentPalette = []string{"#7df0ff", "#ff6df5", "#ffd66b", "#5df9c4"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ViewerConfig is the root configuration of a visualisation session.
// Nil fields resolve to defaults through the Get* accessors, so partial
// files are safe.
type ViewerConfig struct {
	Title              *string  `json:"title,omitempty" yaml:"title,omitempty"`
	RefreshInterval    *string  `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"` // duration string like "300ms"
	HistoryPoints      *int     `json:"history_points,omitempty" yaml:"history_points,omitempty"`
	HistoryWindowMS    *int64   `json:"history_window_ms,omitempty" yaml:"history_window_ms,omitempty"`
	ShowVelocityLabels *bool    `json:"show_velocity_labels,omitempty" yaml:"show_velocity_labels,omitempty"`
	ShowHistoryDetails *bool    `json:"show_history_details,omitempty" yaml:"show_history_details,omitempty"`
	SpeedUnits         *string  `json:"speed_units,omitempty" yaml:"speed_units,omitempty"`
	PlanWidth          *float64 `json:"plan_width,omitempty" yaml:"plan_width,omitempty"`
	PlanHeight         *float64 `json:"plan_height,omitempty" yaml:"plan_height,omitempty"`
	MaxTrail           *int     `json:"max_trail,omitempty" yaml:"max_trail,omitempty"`

	Sensors []SensorConfig `json:"sensors" yaml:"sensors"`
}

// SensorConfig describes one sensor node. Endpoint and SerialPath are both
// optional; a sensor with neither only receives pushed snapshots.
type SensorConfig struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SerialPath string `json:"serial_path,omitempty" yaml:"serial_path,omitempty"`
	BaudRate   *int   `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	Accent     string `json:"accent,omitempty" yaml:"accent,omitempty"`
	Image      string `json:"image,omitempty" yaml:"image,omitempty"`

	// Geometry consulted when a snapshot omits it.
	RoomWidthMM     *float64 `json:"room_width_mm,omitempty" yaml:"room_width_mm,omitempty"`
	RoomDepthMM     *float64 `json:"room_depth_mm,omitempty" yaml:"room_depth_mm,omitempty"`
	SensorOriginXMM *float64 `json:"sensor_origin_x_mm,omitempty" yaml:"sensor_origin_x_mm,omitempty"`
	SensorOriginYMM *float64 `json:"sensor_origin_y_mm,omitempty" yaml:"sensor_origin_y_mm,omitempty"`

	HistoryPoints      *int   `json:"history_points,omitempty" yaml:"history_points,omitempty"`
	HistoryWindowMS    *int64 `json:"history_window_ms,omitempty" yaml:"history_window_ms,omitempty"`
	ShowVelocity       *bool  `json:"show_velocity,omitempty" yaml:"show_velocity,omitempty"`
	ShowHistoryDetails *bool  `json:"show_history_details,omitempty" yaml:"show_history_details,omitempty"`
}

func ptrString(v string) *string { return &v }

// DefaultViewerConfig returns a config with a single push-only sensor.
func DefaultViewerConfig() *ViewerConfig {
	return &ViewerConfig{
		Title:   ptrString(DefaultTitle),
		Sensors: []SensorConfig{{ID: "radar"}},
	}
}

// Load reads a ViewerConfig from a .json, .yaml or .yml file and validates
// it. Files over 1MB are rejected.
func Load(path string) (*ViewerConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ViewerConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *ViewerConfig) Validate() error {
	if c.HistoryPoints != nil && *c.HistoryPoints <= 0 {
		return fmt.Errorf("%w: history_points must be positive, got %d", ErrInvalidConfig, *c.HistoryPoints)
	}
	if c.HistoryWindowMS != nil && *c.HistoryWindowMS <= 0 {
		return fmt.Errorf("%w: history_window_ms must be positive, got %d", ErrInvalidConfig, *c.HistoryWindowMS)
	}
	if c.RefreshInterval != nil && *c.RefreshInterval != "" {
		d, err := time.ParseDuration(*c.RefreshInterval)
		if err != nil {
			return fmt.Errorf("%w: invalid refresh_interval '%s': %v", ErrInvalidConfig, *c.RefreshInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: refresh_interval must be positive, got %s", ErrInvalidConfig, d)
		}
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("%w: speed_units must be one of %s, got %q", ErrInvalidConfig, units.GetValidUnitsString(), *c.SpeedUnits)
	}
	if c.PlanWidth != nil && *c.PlanWidth < 0 {
		return fmt.Errorf("%w: plan_width must be non-negative, got %f", ErrInvalidConfig, *c.PlanWidth)
	}
	if c.PlanHeight != nil && *c.PlanHeight < 0 {
		return fmt.Errorf("%w: plan_height must be non-negative, got %f", ErrInvalidConfig, *c.PlanHeight)
	}
	if c.MaxTrail != nil && *c.MaxTrail <= 0 {
		return fmt.Errorf("%w: max_trail must be positive, got %d", ErrInvalidConfig, *c.MaxTrail)
	}

	if len(c.Sensors) == 0 {
		return fmt.Errorf("%w: at least one sensor is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("%w: sensors[%d] has no id", ErrInvalidConfig, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate sensor id %q", ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
		if s.HistoryPoints != nil && *s.HistoryPoints <= 0 {
			return fmt.Errorf("%w: sensor %s: history_points must be positive, got %d", ErrInvalidConfig, s.ID, *s.HistoryPoints)
		}
		if s.HistoryWindowMS != nil && *s.HistoryWindowMS <= 0 {
			return fmt.Errorf("%w: sensor %s: history_window_ms must be positive, got %d", ErrInvalidConfig, s.ID, *s.HistoryWindowMS)
		}
		if s.BaudRate != nil && *s.BaudRate <= 0 {
			return fmt.Errorf("%w: sensor %s: baud_rate must be positive, got %d", ErrInvalidConfig, s.ID, *s.BaudRate)
		}
		if s.Endpoint != "" && s.SerialPath != "" {
			return fmt.Errorf("%w: sensor %s: endpoint and serial_path are mutually exclusive", ErrInvalidConfig, s.ID)
		}
	}
	return nil
}

// GetTitle returns the title or the default.
func (c *ViewerConfig) GetTitle() string {
	if c.Title == nil || *c.Title == "" {
		return DefaultTitle
	}
	return *c.Title
}

// GetRefreshInterval parses and returns the poll interval.
func (c *ViewerConfig) GetRefreshInterval() time.Duration {
	if c.RefreshInterval == nil || *c.RefreshInterval == "" {
		return DefaultRefreshInterval
	}
	d, err := time.ParseDuration(*c.RefreshInterval)
	if err != nil || d <= 0 {
		return DefaultRefreshInterval
	}
	return d
}

// GetHistoryPoints returns the global history_points value or the default.
func (c *ViewerConfig) GetHistoryPoints() int {
	if c.HistoryPoints == nil {
		return DefaultHistoryPoints
	}
	return *c.HistoryPoints
}

// GetHistoryWindow returns the global history window as a duration.
func (c *ViewerConfig) GetHistoryWindow() time.Duration {
	if c.HistoryWindowMS == nil {
		return DefaultHistoryWindowMS * time.Millisecond
	}
	return time.Duration(*c.HistoryWindowMS) * time.Millisecond
}

// GetShowVelocityLabels returns the show_velocity_labels value or the default.
func (c *ViewerConfig) GetShowVelocityLabels() bool {
	if c.ShowVelocityLabels == nil {
		return defaultShowVelocityLabels
	}
	return *c.ShowVelocityLabels
}

// GetShowHistoryDetails returns the show_history_details value or the default.
func (c *ViewerConfig) GetShowHistoryDetails() bool {
	if c.ShowHistoryDetails == nil {
		return defaultShowHistoryDetails
	}
	return *c.ShowHistoryDetails
}

// GetSpeedUnits returns the display units, defaulting to m/s.
func (c *ViewerConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

// GetPlanSurface returns the plan drawing size. Zero means room millimetres.
func (c *ViewerConfig) GetPlanSurface() (width, height float64) {
	if c.PlanWidth != nil {
		width = *c.PlanWidth
	}
	if c.PlanHeight != nil {
		height = *c.PlanHeight
	}
	return width, height
}

// GetMaxTrail returns the 3D trail buffer length.
func (c *ViewerConfig) GetMaxTrail() int {
	if c.MaxTrail == nil {
		return DefaultMaxTrail
	}
	return *c.MaxTrail
}

// SensorIDs returns the configured ids in file order.
func (c *ViewerConfig) SensorIDs() []string {
	ids := make([]string, len(c.Sensors))
	for i, s := range c.Sensors {
		ids[i] = s.ID
	}
	return ids
}

// Sensor looks up a sensor by id.
func (c *ViewerConfig) Sensor(id string) (SensorConfig, bool) {
	for _, s := range c.Sensors {
		if s.ID == id {
			return s, true
		}
	}
	return SensorConfig{}, false
}

func (c *ViewerConfig) sensorIndex(id string) int {
	for i, s := range c.Sensors {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// HistoryPointsFor resolves history_points for a sensor, falling back to the
// global value. Unknown sensors get the global value.
func (c *ViewerConfig) HistoryPointsFor(id string) int {
	if s, ok := c.Sensor(id); ok && s.HistoryPoints != nil {
		return *s.HistoryPoints
	}
	return c.GetHistoryPoints()
}

// HistoryWindowFor resolves the history window for a sensor.
func (c *ViewerConfig) HistoryWindowFor(id string) time.Duration {
	if s, ok := c.Sensor(id); ok && s.HistoryWindowMS != nil {
		return time.Duration(*s.HistoryWindowMS) * time.Millisecond
	}
	return c.GetHistoryWindow()
}

// ShowVelocityFor resolves whether speed labels are drawn for a sensor.
func (c *ViewerConfig) ShowVelocityFor(id string) bool {
	if s, ok := c.Sensor(id); ok && s.ShowVelocity != nil {
		return *s.ShowVelocity
	}
	return c.GetShowVelocityLabels()
}

// ShowHistoryDetailsFor resolves whether the history panel is shown.
func (c *ViewerConfig) ShowHistoryDetailsFor(id string) bool {
	if s, ok := c.Sensor(id); ok && s.ShowHistoryDetails != nil {
		return *s.ShowHistoryDetails
	}
	return c.GetShowHistoryDetails()
}

// NameFor returns the display name, "Sensor N" when unset.
func (c *ViewerConfig) NameFor(id string) string {
	i := c.sensorIndex(id)
	if i < 0 {
		return id
	}
	if c.Sensors[i].Name != "" {
		return c.Sensors[i].Name
	}
	return fmt.Sprintf("Sensor %d", i+1)
}

// AccentFor returns the sensor accent colour, cycling the palette by
// position when unset.
func (c *ViewerConfig) AccentFor(id string) string {
	i := c.sensorIndex(id)
	if i >= 0 && c.Sensors[i].Accent != "" {
		return c.Sensors[i].Accent
	}
	if i < 0 {
		i = 0
	}
	return AccentPalette[i%len(AccentPalette)]
}

// GeometryFor returns the sensor's configured geometry for snapshot parsing.
func (c *ViewerConfig) GeometryFor(id string) snapshot.Defaults {
	s, ok := c.Sensor(id)
	if !ok {
		return snapshot.Defaults{}
	}
	return snapshot.Defaults{
		RoomWidthMM:     s.RoomWidthMM,
		RoomDepthMM:     s.RoomDepthMM,
		SensorOriginXMM: s.SensorOriginXMM,
		SensorOriginYMM: s.SensorOriginYMM,
	}
}

// GetBaudRate returns the serial baud rate or the default.
func (s SensorConfig) GetBaudRate() int {
	if s.BaudRate == nil {
		return DefaultBaudRate
	}
	return *s.BaudRate
}

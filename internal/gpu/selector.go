// Package gpu picks the accelerator a worker renders on.
package gpu

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/execx"
)

const (
	// DefaultQueryCommand lists NVIDIA devices, one per line
	DefaultQueryCommand = "nvidia-smi"

	// DefaultPreferredMarker selects the higher-end product family
	DefaultPreferredMarker = "RTX"
)

// DefaultQueryArgs are the arguments passed to DefaultQueryCommand
var DefaultQueryArgs = []string{"-L"}

// deviceLine matches "GPU 0: NVIDIA GeForce RTX 3080 (UUID: GPU-...)"
var deviceLine = regexp.MustCompile(`^GPU ([0-9]+): (.+?) \(UUID: ?([^)]*)\)`)

// Config holds selector settings
type Config struct {
	Logger          *slog.Logger
	Runner          execx.Runner
	QueryCommand    string
	QueryArgs       []string
	PreferredMarker string
}

// Selector queries local devices and picks one deterministically
type Selector struct {
	logger          *slog.Logger
	runner          execx.Runner
	queryCommand    string
	queryArgs       []string
	preferredMarker string
}

// NewSelector creates a selector, filling defaults for empty settings
func NewSelector(cfg *Config) *Selector {
	s := &Selector{
		logger:          cfg.Logger,
		runner:          cfg.Runner,
		queryCommand:    cfg.QueryCommand,
		queryArgs:       cfg.QueryArgs,
		preferredMarker: cfg.PreferredMarker,
	}
	if s.queryCommand == "" {
		s.queryCommand = DefaultQueryCommand
		if s.queryArgs == nil {
			s.queryArgs = DefaultQueryArgs
		}
	}
	if s.preferredMarker == "" {
		s.preferredMarker = DefaultPreferredMarker
	}
	return s
}

// Select returns the chosen device, or false when no device is usable.
// Query failures are logged and reported as unavailable.
func (s *Selector) Select(ctx context.Context) (domain.GPUDescriptor, bool) {
	stdout, stderr, err := s.runner.Run(ctx, s.queryCommand, s.queryArgs...)
	if err != nil {
		s.logger.Info("No GPU detected, rendering with engine defaults",
			slog.String("command", s.queryCommand),
			slog.String("error", err.Error()),
			slog.String("stderr", strings.TrimSpace(string(stderr))),
		)
		return domain.GPUDescriptor{}, false
	}

	devices := s.parse(string(stdout))
	device, ok := s.pick(devices)
	if !ok {
		s.logger.Info("No usable GPU in device listing, rendering with engine defaults")
		return domain.GPUDescriptor{}, false
	}

	s.logger.Info("GPU selected",
		slog.Int("index", device.Index),
		slog.String("name", device.Name),
		slog.Bool("preferred_tier", device.HasTag(domain.TagPreferredTier)),
		slog.Int("devices_found", len(devices)),
	)
	return device, true
}

// parse converts a device listing into descriptors, skipping lines it cannot read
func (s *Selector) parse(listing string) []domain.GPUDescriptor {
	var devices []domain.GPUDescriptor
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := deviceLine.FindStringSubmatch(line)
		if m == nil {
			s.logger.Error("Could not parse GPU name from device listing",
				slog.String("line", line),
			)
			continue
		}

		index, err := strconv.Atoi(m[1])
		if err != nil {
			s.logger.Error("Could not parse GPU index from device listing",
				slog.String("line", line),
			)
			continue
		}

		d := domain.GPUDescriptor{
			Index: index,
			Name:  m[2],
			UUID:  m[3],
		}
		if strings.Contains(d.Name, s.preferredMarker) {
			d.Tags = append(d.Tags, domain.TagPreferredTier)
		}
		devices = append(devices, d)
	}
	return devices
}

// pick prefers the first preferred-tier device, then the first device overall
func (s *Selector) pick(devices []domain.GPUDescriptor) (domain.GPUDescriptor, bool) {
	for _, d := range devices {
		if d.HasTag(domain.TagPreferredTier) {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return domain.GPUDescriptor{}, false
}

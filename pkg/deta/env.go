package deta

import (
	"fmt"
	"strings"

	"github.com/asyncdeta/deta_sdk_go/internal/config"
	"github.com/asyncdeta/deta_sdk_go/internal/devseed"
	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	basemock "github.com/asyncdeta/deta_sdk_go/pkg/base/mock"
	drivemock "github.com/asyncdeta/deta_sdk_go/pkg/drive/mock"
)

const mockProjectKey = "mock_key"

// NewFromEnv opens a session from DETA_* variables and the optional file
// named by DETA_CONFIG. In auto mode a project key selects HTTP, otherwise
// in-memory mocks are used.
func NewFromEnv(opts ...Option) (*Deta, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("deta: %w", err)
	}
	return NewFromConfig(cfg, opts...)
}

// NewFromConfig opens a session from a resolved configuration. opts are
// applied after the configuration and take precedence.
func NewFromConfig(cfg config.Config, opts ...Option) (*Deta, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("deta: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	all := append([]Option{
		WithBaseURL(cfg.BaseURL),
		WithDriveURL(cfg.DriveURL),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
		WithPartConcurrency(cfg.PartConcurrency),
		WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		WithLogger(log),
	}, opts...)

	switch cfg.RuntimeMode {
	case config.ModeAuto:
		if cfg.ProjectKey != "" {
			return New(cfg.ProjectKey, all...)
		}
		return newMockSession(cfg, all)
	case config.ModeHTTP:
		if cfg.ProjectKey == "" {
			return nil, fmt.Errorf("deta: HTTP mode requires %s_PROJECT_KEY", config.EnvPrefix)
		}
		return New(cfg.ProjectKey, all...)
	case config.ModeMock:
		return newMockSession(cfg, all)
	default:
		return nil, fmt.Errorf("deta: unsupported runtime mode %q", cfg.RuntimeMode)
	}
}

func newMockSession(cfg config.Config, opts []Option) (*Deta, error) {
	key := cfg.ProjectKey
	if key == "" {
		key = mockProjectKey
	}
	bases, drives, err := NewMocks(projectID(key), cfg.MockPageSize, cfg.MockBaseSeed, cfg.MockDriveSeed)
	if err != nil {
		return nil, err
	}
	return NewWithBackends(key, bases, drives, opts...)
}

// NewMocks builds seeded in-memory backends. Empty seed paths leave the
// stores empty.
func NewMocks(projectID string, pageSize int, baseSeed, driveSeed string) (*basemock.Mock, *drivemock.Mock, error) {
	bases := basemock.New(basemock.WithPageSize(pageSize))
	if path := strings.TrimSpace(baseSeed); path != "" {
		entries, err := devseed.LoadBaseSeed(path)
		if err != nil {
			return nil, nil, fmt.Errorf("deta: load base seed: %w", err)
		}
		if err := bases.Seed(entries); err != nil {
			return nil, nil, fmt.Errorf("deta: apply base seed: %w", err)
		}
	}

	drives := drivemock.New(drivemock.WithProjectID(projectID), drivemock.WithPageSize(pageSize))
	if path := strings.TrimSpace(driveSeed); path != "" {
		entries, err := devseed.LoadDriveSeed(path)
		if err != nil {
			return nil, nil, fmt.Errorf("deta: load drive seed: %w", err)
		}
		if err := drives.Seed(entries); err != nil {
			return nil, nil, fmt.Errorf("deta: apply drive seed: %w", err)
		}
	}
	return bases, drives, nil
}

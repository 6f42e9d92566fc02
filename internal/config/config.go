// Package config reads and writes the CLI's JSON client profile.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"
	"github.com/julianstephens/go-utils/validator"

	"github.com/julianstephens/evlog/internal/evlog"
)

// Version is the newest profile format this build understands.
const Version = 1

// Profile holds client defaults the CLI applies before flags.
type Profile struct {
	Version         int    `json:"version"`
	Addr            string `json:"addr"`
	RetryDelayMs    int    `json:"retry_delay_ms"`
	MaxBytes        uint32 `json:"max_bytes"`
	VerifyChecksums bool   `json:"verify_checksums"`
	LogLevel        string `json:"log_level"`
	LogMaxSize      *int   `json:"log_max_size,omitempty"`
	LogMaxBackups   *int   `json:"log_max_backups,omitempty"`
}

// DefaultProfile returns a Profile with default settings
func DefaultProfile() *Profile {
	return &Profile{
		Version:      Version,
		Addr:         evlog.DefaultAddr,
		RetryDelayMs: int(evlog.DefaultRetryDelay / time.Millisecond),
		MaxBytes:     evlog.DefaultMaxBytes,
		LogLevel:     evlog.DefaultLogLevel,
	}
}

// RetryDelay returns the retry delay as a duration.
func (p *Profile) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// Validate checks the numeric fields of a loaded profile.
func (p *Profile) Validate() error {
	ints := validator.Numbers[int]()
	if err := ints.ValidateNonZero(p.RetryDelayMs); err != nil {
		return &ConfigError{Kind: ConfigErrorKindInvalid, Err: fmt.Errorf("retry_delay_ms: %w", err)}
	}
	if err := validator.Numbers[uint32]().ValidateNonZero(p.MaxBytes); err != nil {
		return &ConfigError{Kind: ConfigErrorKindInvalid, Err: fmt.Errorf("max_bytes: %w", err)}
	}
	if p.Addr == "" {
		return &ConfigError{Kind: ConfigErrorKindInvalid, Err: fmt.Errorf("addr is empty")}
	}
	for name, v := range map[string]*int{"log_max_size": p.LogMaxSize, "log_max_backups": p.LogMaxBackups} {
		if v == nil {
			continue
		}
		if err := ints.ValidateNonZero(*v); err != nil {
			return &ConfigError{Kind: ConfigErrorKindInvalid, Err: fmt.Errorf("%s: %w", name, err)}
		}
	}
	return nil
}

// DefaultDir returns ~/.evlog.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ConfigError{Kind: ConfigErrorKindHomeDirectory, Err: err}
	}
	return filepath.Join(home, evlog.DefaultAppDir), nil
}

// Path returns the profile path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, evlog.DefaultConfigName)
}

// Create writes a default profile into dir, creating dir if needed.
func Create(dir string) (*Profile, error) {
	profilePath := Path(dir)
	if helpers.Exists(profilePath) {
		return nil, &ConfigError{
			Kind: ConfigErrorKindAlreadyExists,
			Path: profilePath,
			Err:  fs.ErrExist,
		}
	}
	if err := helpers.Ensure(dir, true); err != nil {
		return nil, &ConfigError{Kind: ConfigErrorKindWrite, Path: dir, Err: err}
	}

	p := DefaultProfile()
	if err := p.write(profilePath); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads and validates the profile in dir.
func Load(dir string) (*Profile, error) {
	profilePath := Path(dir)
	if !helpers.Exists(profilePath) {
		return nil, &ConfigError{Kind: ConfigErrorKindNotFound, Path: profilePath, Err: fs.ErrNotExist}
	}

	p := &Profile{}
	if err := jsonutil.ReadFileStrict(profilePath, p); err != nil {
		return nil, &ConfigError{Kind: ConfigErrorKindDecode, Path: profilePath, Err: err}
	}
	if p.Version > Version {
		return nil, &ConfigError{
			Kind: ConfigErrorKindUnsupportedVersion,
			Path: profilePath,
			Err:  fmt.Errorf("profile version %d is not supported", p.Version),
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadOrDefault returns the profile in dir, or the defaults when none exists.
func LoadOrDefault(dir string) (*Profile, error) {
	p, err := Load(dir)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok && ce.Kind == ConfigErrorKindNotFound {
			return DefaultProfile(), nil
		}
		return nil, err
	}
	return p, nil
}

// Save overwrites the existing profile in dir.
func (p *Profile) Save(dir string) error {
	profilePath := Path(dir)
	if !helpers.Exists(profilePath) {
		return &ConfigError{Kind: ConfigErrorKindNotFound, Path: profilePath, Err: fs.ErrNotExist}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return p.write(profilePath)
}

func (p *Profile) write(profilePath string) error {
	data, err := jsonutil.Marshal(p)
	if err != nil {
		return &ConfigError{Kind: ConfigErrorKindEncode, Path: profilePath, Err: err}
	}
	if err := helpers.AtomicFileWrite(profilePath, data); err != nil {
		return &ConfigError{Kind: ConfigErrorKindWrite, Path: profilePath, Err: err}
	}
	return nil
}

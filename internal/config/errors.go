package config

import (
	"errors"
	"fmt"
)

type ConfigErrorKind int

const (
	ConfigErrorKindNotFound ConfigErrorKind = iota + 1
	ConfigErrorKindHomeDirectory
	ConfigErrorKindUnsupportedVersion
	ConfigErrorKindInvalid
	ConfigErrorKindEncode
	ConfigErrorKindDecode
	ConfigErrorKindWrite
	ConfigErrorKindAlreadyExists
)

var (
	ErrConfigNotFound           = errors.New("config: file not found")
	ErrConfigHomeDirectory      = errors.New("config: unable to locate home directory")
	ErrConfigUnsupportedVersion = errors.New("config: unsupported version")
	ErrConfigInvalid            = errors.New("config: invalid value")
	ErrConfigEncode             = errors.New("config: unable to encode to JSON")
	ErrConfigDecode             = errors.New("config: unable to decode from JSON")
	ErrConfigWrite              = errors.New("config: unable to write to file")
	ErrConfigAlreadyExists      = errors.New("config: file already exists")
)

type ConfigError struct {
	Kind ConfigErrorKind
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v (%s): %v", e.sentinel(), e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.sentinel(), e.Err)
}

func (e *ConfigError) Unwrap() []error {
	if s := e.sentinel(); s != nil {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}

func (e *ConfigError) sentinel() error {
	switch e.Kind {
	case ConfigErrorKindNotFound:
		return ErrConfigNotFound
	case ConfigErrorKindHomeDirectory:
		return ErrConfigHomeDirectory
	case ConfigErrorKindUnsupportedVersion:
		return ErrConfigUnsupportedVersion
	case ConfigErrorKindInvalid:
		return ErrConfigInvalid
	case ConfigErrorKindEncode:
		return ErrConfigEncode
	case ConfigErrorKindDecode:
		return ErrConfigDecode
	case ConfigErrorKindWrite:
		return ErrConfigWrite
	case ConfigErrorKindAlreadyExists:
		return ErrConfigAlreadyExists
	default:
		return nil
	}
}

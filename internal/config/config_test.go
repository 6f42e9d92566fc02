package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/evlog/internal/config"
	"github.com/julianstephens/evlog/internal/evlog"
)

// TestCreateAndLoad verifies a created profile reads back with defaults
func TestCreateAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	created, err := config.Create(dir)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, created, config.DefaultProfile())

	loaded, err := config.Load(dir)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, loaded, created)
	tst.AssertEqual(t, loaded.RetryDelay(), evlog.DefaultRetryDelay, "default retry delay")
	tst.AssertEqual(t, loaded.MaxBytes, evlog.DefaultMaxBytes, "default max bytes")
}

// TestCreate_AlreadyExists validates error when a profile exists
func TestCreate_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Create(dir)
	tst.RequireNoError(t, err)

	_, err = config.Create(dir)
	tst.AssertTrue(t, errors.Is(err, config.ErrConfigAlreadyExists), "expected ErrConfigAlreadyExists")
}

func TestSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	p, err := config.Create(dir)
	tst.RequireNoError(t, err)

	backups := 7
	p.Addr = "10.0.0.1:7000"
	p.RetryDelayMs = 500
	p.VerifyChecksums = true
	p.LogMaxBackups = &backups
	tst.RequireNoError(t, p.Save(dir))

	loaded, err := config.Load(dir)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, loaded, p)
	tst.AssertEqual(t, loaded.RetryDelay(), 500*time.Millisecond, "retry delay")
}

func TestSave_MissingProfile(t *testing.T) {
	err := config.DefaultProfile().Save(t.TempDir())
	tst.AssertTrue(t, errors.Is(err, config.ErrConfigNotFound), "expected ErrConfigNotFound")
}

// TestLoadErrors_TableDriven tests rejection of malformed profiles
func TestLoadErrors_TableDriven(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    error
	}{
		{"Corrupted", `{"version": 1,`, config.ErrConfigDecode},
		{"FutureVersion", `{"version": 99, "addr": "x:1", "retry_delay_ms": 1, "max_bytes": 1}`, config.ErrConfigUnsupportedVersion},
		{"ZeroRetryDelay", `{"version": 1, "addr": "x:1", "retry_delay_ms": 0, "max_bytes": 1}`, config.ErrConfigInvalid},
		{"ZeroMaxBytes", `{"version": 1, "addr": "x:1", "retry_delay_ms": 1, "max_bytes": 0}`, config.ErrConfigInvalid},
		{"EmptyAddr", `{"version": 1, "addr": "", "retry_delay_ms": 1, "max_bytes": 1}`, config.ErrConfigInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			tst.RequireNoError(t, os.WriteFile(config.Path(dir), []byte(tc.content), 0o600))

			_, err := config.Load(dir)
			tst.AssertTrue(t, errors.Is(err, tc.want), "unexpected error: "+errString(err))
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	p, err := config.LoadOrDefault(t.TempDir())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, p, config.DefaultProfile())
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigDir_NonEmpty(t *testing.T) {
	dir := DefaultConfigDir()
	assert.NotEmpty(t, dir)
	assert.True(t, strings.Contains(dir, appName))
}

func TestDefaultDataDir_NonEmpty(t *testing.T) {
	dir := DefaultDataDir()
	assert.NotEmpty(t, dir)
	assert.True(t, strings.Contains(dir, appName))
}

func TestDefaultConfigPath_EndsWithConfigToml(t *testing.T) {
	path := DefaultConfigPath()
	assert.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, "config.toml"))
}

func TestDefaultCredentialPath(t *testing.T) {
	path := DefaultCredentialPath()
	assert.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, credentialFileName))
	assert.Contains(t, path, appName)
}

func TestDefaultLedgerPath(t *testing.T) {
	path := DefaultLedgerPath()
	assert.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, ledgerFileName))
}

func TestXDGConfigHome(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg/config")

	dir := DefaultConfigDir()
	assert.Equal(t, filepath.Join("/custom/xdg/config", appName), dir)
}

func TestXDGDataHome(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_DATA_HOME", "/custom/xdg/data")

	dir := DefaultDataDir()
	assert.Equal(t, filepath.Join("/custom/xdg/data", appName), dir)
}

func TestXDGUnset_FallsBackToHome(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")

	dir := DefaultConfigDir()
	assert.Equal(t, filepath.Join("/home/testuser", ".config", appName), dir)
}

func TestDefaultConfigDir_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	dir := DefaultConfigDir()
	assert.Contains(t, dir, "Library/Application Support")
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "guardian.db") + "\n" +
		"auth:\n" +
		"  jwt_secret: cli-secret\n" +
		"  issuer: guardian-cli\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath, tokenUser, tokenRole, tokenTTL = "", "", auth.RoleElder, auth.AccessTokenTTL
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "token", "--config", path, "--user", "child-1", "--role", "caregiver")
	require.NoError(t, err)

	claims, err := auth.NewJWTService("cli-secret", "guardian-cli").ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "child-1", claims.UserID)
	assert.Equal(t, auth.RoleCaregiver, claims.Role)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	path := writeConfig(t)
	_, err := execute(t, "token", "--config", path, "--user", "u1", "--role", "admin")
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
}

func TestMigrateCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "migrate", "up", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	out, err = execute(t, "migrate", "down", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

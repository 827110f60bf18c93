package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserCreate(t *testing.T) {
	opts, err := parseUserCreate([]string{"-login", "root", "-email", "root@example.com", "-password", "hunter2hunter2", "-admin"})
	require.NoError(t, err)
	assert.Equal(t, "root", opts.login)
	assert.Equal(t, "root@example.com", opts.email)
	assert.True(t, opts.admin)

	tests := []struct {
		name string
		args []string
	}{
		{"missing login", []string{"-email", "a@b.c", "-password", "longenough"}},
		{"missing password", []string{"-login", "a", "-email", "a@b.c"}},
		{"short password", []string{"-login", "a", "-email", "a@b.c", "-password", "short"}},
		{"unknown flag", []string{"-login", "a", "-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUserCreate(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseToken(t *testing.T) {
	opts, err := parseToken([]string{"-login", "root"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, opts.ttl)
	assert.Empty(t, opts.scopes)

	opts, err = parseToken([]string{"-login", "root", "-ttl", "1h", "-scopes", "audit:read, settings:read"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, opts.ttl)
	assert.Equal(t, []string{"audit:read", "settings:read"}, opts.scopes)

	_, err = parseToken([]string{"-ttl", "1h"})
	assert.Error(t, err)
	_, err = parseToken([]string{"-login", "root", "-ttl", "-1h"})
	assert.Error(t, err)
	_, err = parseToken([]string{"-login", "root", "-scopes", "modules:write"})
	assert.ErrorContains(t, err, "invalid scope")
}

func TestSplitScopes(t *testing.T) {
	assert.Nil(t, splitScopes(""))
	assert.Equal(t, []string{"admin"}, splitScopes(" admin ,,"))
}

func TestRun_Commands(t *testing.T) {
	assert.NoError(t, run([]string{"version"}))
	assert.ErrorContains(t, run([]string{"frobnicate"}), "unknown command")
	assert.Error(t, run([]string{"migrate"}))
	assert.Error(t, run([]string{"user", "delete"}))
}

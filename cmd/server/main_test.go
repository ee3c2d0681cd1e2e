package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":   {AuthSecret: "short", ManagerPIN: "739154"},
		"short pin":      {AuthSecret: strongSecret, ManagerPIN: "7391"},
		"common pin":     {AuthSecret: strongSecret, ManagerPIN: "123456"},
		"repeated digit": {AuthSecret: strongSecret, ManagerPIN: "444444"},
		"descending run": {AuthSecret: strongSecret, ManagerPIN: "876543"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, validateSecurityConfig(cfg))
		})
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}))
}

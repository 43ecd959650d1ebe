package main

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFlags(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()
	os.Args = []string{"cmd", "--config=/etc/swap-desk.yaml", "--log-level=debug"}

	// Reset flags to avoid interference between tests
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	cfgPath, level := parseFlags()
	assert.Equal(t, "/etc/swap-desk.yaml", cfgPath)
	assert.Equal(t, "debug", level)
}

func TestParseFlags_Defaults(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()
	os.Args = []string{"cmd"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	cfgPath, level := parseFlags()
	assert.Equal(t, "./config.yaml", cfgPath)
	assert.Empty(t, level)
}

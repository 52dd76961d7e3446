package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFailsWhenListenAddressInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	assert.Equal(t, 1, run([]string{occupied.Addr().String(), "127.0.0.1:11210"}))
}

func TestRunFailsOnInvalidBackend(t *testing.T) {
	assert.Equal(t, 1, run([]string{"127.0.0.1:0", "not-an-address"}))
}

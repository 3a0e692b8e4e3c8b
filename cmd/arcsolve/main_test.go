package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harrison/arcsolve/internal/cmd"
)

func TestRootCommandWiring(t *testing.T) {
	root := cmd.NewRootCommand()
	assert.Equal(t, "arcsolve", root.Use)
	assert.NotEmpty(t, root.Version)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "serve", "show", "list", "validate"} {
		assert.Contains(t, names, want)
	}
}

package runnertest

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/runner"
)

func TestFake_PrefixMatching(t *testing.T) {
	f := NewFake("docker")
	f.OnOutput("docker --version", "Docker version 24.0.7, build afdd53b")
	f.OnFail("docker compose", 1)

	ctx := context.Background()
	res, err := f.Run(ctx, runner.Command{Name: "docker", Args: []string{"--version"}})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "24.0.7")

	_, err = f.Run(ctx, runner.Command{Name: "docker", Args: []string{"compose", "up", "-d"}})
	assert.Error(t, err)

	_, err = f.Run(ctx, runner.Command{Name: "docker", Args: []string{"ps"}})
	assert.NoError(t, err)

	_, err = f.Run(ctx, runner.Command{Name: "git", Args: []string{"--version"}})
	assert.True(t, errors.Is(err, exec.ErrNotFound))

	_, err = f.LookPath("git")
	assert.Error(t, err)

	assert.True(t, f.Ran("docker compose up"))
	assert.Len(t, f.Calls(), 4)
}

package operations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func newTestApp(cmd cli.Command) *cli.App {
	app := cli.NewApp()
	app.Name = "fnbench"
	app.Commands = []cli.Command{cmd}
	return app
}

func TestList(t *testing.T) {
	t.Run("MalformedConfigSurfacesTheError", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("metrics: [unclosed\n"), 0o644))

		err := newTestApp(List()).Run([]string{"fnbench", "list", "-f", bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolving configuration")
	})

	t.Run("RunsWithoutConfiguration", func(t *testing.T) {
		assert.NoError(t, newTestApp(List()).Run([]string{"fnbench", "list"}))
	})
}

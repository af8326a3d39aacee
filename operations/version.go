package operations

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/fnbench/fnbench"
)

// Version returns the command that prints the client version.
func Version() cli.Command {
	return cli.Command{
		Name:  "version",
		Usage: "print the client version",
		Action: func(c *cli.Context) error {
			fmt.Println("fnbench version:", fnbench.ClientVersion)
			if fnbench.BuildRevision != "" {
				fmt.Println("build revision:", fnbench.BuildRevision)
			}
			return nil
		},
	}
}

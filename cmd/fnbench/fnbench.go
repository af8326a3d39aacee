package main

import (
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/urfave/cli"

	"github.com/fnbench/fnbench"
	"github.com/fnbench/fnbench/operations"
)

func main() {
	app := buildApp()

	grip.EmergencyFatal(app.Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fnbench"
	app.Usage = "Function Benchmark Harness"
	app.Version = fnbench.ClientVersion

	app.Commands = []cli.Command{
		operations.Run(),
		operations.List(),
		operations.Version(),
	}

	// Global options, independent from specific sub commands.
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "level",
			Value: "info",
			Usage: "Specify lowest visible log level as string: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
	}

	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String("level"))
	}

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}

package operations

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var (
	setPlainLogger = func(c *cli.Context) error {
		grip.Warning(grip.SetSender(send.MakePlainLogger()))
		return nil
	}

	requireFunctionArg = func(c *cli.Context) error {
		if c.NArg() < 1 && c.String(reproFlagName) == "" {
			return errors.New("missing required argument: function or program to run")
		}
		return nil
	}

	mutuallyExclusiveStartModes = func(c *cli.Context) error {
		if c.Bool(coldFlagName) && c.Bool(warmFlagName) {
			return errors.Errorf("--%s and --%s cannot be combined", coldFlagName, warmFlagName)
		}
		return nil
	}
)

func mergeBeforeFuncs(ops ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()

		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}

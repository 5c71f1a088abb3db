package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/pkg/scf"
)

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Recompute and check the payload digests of a container",
		ArgsUsage: "<container>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: scf verify <container>", 2)
			}
			path := cmd.Args().First()

			f, err := scf.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open container: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			mi, err := f.ModelInfo()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read model info: %v", err), 1)
			}
			if len(mi.Digests) == 0 {
				return cli.Exit("error: container records no digests", 1)
			}
			if err := scf.VerifyDigests(f); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Printf("%s: %d digests OK\n", path, len(mi.Digests))
			return nil
		},
	}
}

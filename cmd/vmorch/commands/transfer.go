package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <vm> <local> <remote>",
		Short: "Copy a local file into the guest",
		Long: `Copy a local file into the guest. Missing parent directories are created
and an existing file is overwritten.`,
		Example: `  vmorch upload web01 ./app.tar.gz /opt/app/app.tar.gz`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			op := a.start(ctx, "upload", args[0])
			defer func() { op.End(err) }()
			ctx = op.Ctx

			g, err := a.guest(ctx, args[0])
			if err != nil {
				return err
			}
			if err := g.File().UploadFile(ctx, args[1], args[2]); err != nil {
				return err
			}
			return printResult(map[string]string{
				"vm": args[0], "local": args[1], "remote": args[2],
			}, fmt.Sprintf("Uploaded %s to %s:%s", args[1], args[0], args[2]))
		},
	}
	return cmd
}

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "download <vm> <remote> <local>",
		Short:   "Copy a file out of the guest",
		Example: `  vmorch download web01 /var/log/app.log ./app.log`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			op := a.start(ctx, "download", args[0])
			defer func() { op.End(err) }()
			ctx = op.Ctx

			g, err := a.guest(ctx, args[0])
			if err != nil {
				return err
			}
			if err := g.File().DownloadFile(ctx, args[1], args[2]); err != nil {
				return err
			}
			return printResult(map[string]string{
				"vm": args[0], "remote": args[1], "local": args[2],
			}, fmt.Sprintf("Downloaded %s:%s to %s", args[0], args[1], args[2]))
		},
	}
	return cmd
}

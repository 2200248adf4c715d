package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunatix-dev/lunatix/internal/config"
	"github.com/lunatix-dev/lunatix/internal/doctor"
	clierrors "github.com/lunatix-dev/lunatix/internal/errors"
	"github.com/lunatix-dev/lunatix/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to identify configuration and connectivity issues.

Checks performed:
  - Config file location and readability
  - Bundled sidecar binary and the port it will listen on
  - Backend status endpoint, response time, and version
  - Shell bridge of a running 'lunatix serve'
  - Build version`,
		Example: `  lunatix doctor
  lunatix doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			runner := doctor.New(doctor.Options{
				Config:       config.Load(),
				OverrideDirs: overrideDirs(),
			})

			results := runner.Run(cmd.Context())

			if out.JSON {
				if err := out.PrintJSON(results); err != nil {
					return err
				}
			} else {
				renderDoctor(out, results)
			}

			if _, failed, _ := doctor.Summary(results); failed > 0 {
				return clierrors.New(clierrors.ExitGeneral, fmt.Sprintf("%d check(s) failed", failed))
			}

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("Lunatix Doctor")
	out.Println("==============")
	out.Println()

	doctor.RenderResults(results, out.Success, out.Warning, out.Failure, out.Muted)

	passed, failed, warnings := doctor.Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yucchiy/UnityApiAnalyzer/internal/doctor"
	"github.com/yucchiy/UnityApiAnalyzer/internal/repository"
)

func newDoctorCommand(flags *globalFlags) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and host before running an analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			r := doctor.New(cfg, repository.NewExecRunner()).Validate()

			out := cmd.OutOrStdout()
			if jsonOut {
				s, err := doctor.FormatJSON(r)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			} else {
				fmt.Fprint(out, doctor.FormatHuman(r))
			}
			if !r.Valid {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/config"
)

func rosterCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Validate and print the agent roster",
		Long:  "Loads the configuration, checks roster invariants (weights sum to 1.0,\nknown specializations, unique ids), and prints the resulting fleet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			roster, err := cfg.BuildRoster()
			if err != nil {
				return err
			}
			if _, err := agent.NewRegistry(roster); err != nil {
				return err
			}

			fmt.Printf("%-14s %-12s %-14s %8s %6s\n", "ID", "NAME", "SPECIALIZATION", "WEIGHT", "VETO")
			for _, a := range roster {
				veto := ""
				if a.Specialization.CanVeto() {
					veto = "yes"
				}
				fmt.Printf("%-14s %-12s %-14s %8.2f %6s\n",
					a.ID, a.Name, a.Specialization, a.Weight, veto)
			}
			fmt.Printf("\n%d agents, policy %s\n", len(roster), cfg.Engine.DelegationPolicy)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	return cmd
}

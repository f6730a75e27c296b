package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weldr-dev/runr/internal/worker"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Ping every configured worker role and report whether it is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(configPath)
		if err != nil {
			return setupExit(err)
		}

		roles := make([]string, 0, len(cfg.Workers))
		for role := range cfg.Workers {
			roles = append(roles, role)
		}
		sort.Strings(roles)

		ctx := cmd.Context()
		authFailure := false
		anyFailure := false
		for _, role := range roles {
			w := cfg.Workers[role]
			res := worker.Ping(ctx, role, worker.Config{Bin: w.Bin, Args: w.Args, Output: w.Output})
			if res.OK {
				fmt.Printf("  ✓  %-14s  reachable\n", role)
				continue
			}
			anyFailure = true
			if res.Class == "auth" {
				authFailure = true
			}
			fmt.Printf("  ✗  %-14s  %s: %s\n", role, res.Class, res.Detail)
		}

		if authFailure {
			return setupExit(fmt.Errorf("one or more workers failed authentication"))
		}
		if anyFailure {
			return stoppedExit(fmt.Errorf("one or more workers are unreachable"))
		}
		fmt.Println("runr: all configured workers are reachable")
		return nil
	},
}

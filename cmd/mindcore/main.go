// Command mindcore is the operator CLI for the cognitive persistence
// engine: bootstrap a store, inspect its schema and metrics, tick rituals,
// and drive schema evolution by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mindcore"
)

var (
	connString string
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "mindcore",
		Short: "Self-evolving cognitive persistence engine",
	}
	root.PersistentFlags().StringVarP(&connString, "connect", "c", "", "connection string (embedded:PATH, sqlite:PATH, postgres://...)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(initCmd(), statusCmd(), ritualCmd(), evolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func open() (*mindcore.Cortex, error) {
	opts := []mindcore.Option{}
	if configPath != "" {
		opts = append(opts, mindcore.WithConfigFile(configPath))
	}
	if verbose {
		opts = append(opts, mindcore.WithLogging("debug"))
	}
	return mindcore.Open(connString, opts...)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the agentic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()

			schema, err := c.Introspect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("store initialized: %d tables\n", len(schema.Tables))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()

			cost, err := c.Metrics.GlobalCost(ctx)
			if err != nil {
				return err
			}
			bloom := c.Metrics.Bloom()
			cacheStats := c.Metrics.Cache()

			fmt.Printf("global cost:            %.4f\n", cost)
			fmt.Printf("bloom rejections:       %d\n", bloom.BloomRejections)
			fmt.Printf("semantic confirmations: %d\n", bloom.SemanticConfirmations)
			fmt.Printf("cache hit rate:         %.2f%%\n", cacheStats.HitRate()*100)
			fmt.Printf("aggressiveness:         %.2f\n", c.Metrics.Aggressiveness())

			usage, err := c.Metrics.ModelUsage(ctx)
			if err != nil {
				return err
			}
			for model, u := range usage {
				fmt.Printf("  %s: in=%d out=%d cost=%.4f\n", model, u.InputTokens, u.OutputTokens, u.Cost)
			}
			return nil
		},
	}
}

func ritualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ritual",
		Short: "Manage background rituals",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Execute every ready ritual",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			res, err := c.Rituals.RunPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("ran=%d succeeded=%d failed=%d skipped=%d\n",
				res.Ran, res.Succeeded, res.Failed, res.Skipped)
			return nil
		},
	})
	defineCmd := &cobra.Command{
		Use:   "define NAME TYPE FREQUENCY",
		Short: "Create or update a ritual",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()

			r, err := c.Rituals.Define(cmd.Context(), args[0], args[1], "{}", args[2])
			if err != nil {
				return err
			}
			fmt.Printf("ritual %s (%s, %s) defined\n", r.Name, r.Type, r.Frequency)
			return nil
		},
	}
	cmd.AddCommand(defineCmd)
	return cmd
}

func evolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Drive schema evolution",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "propose DDL",
		Short: "Propose a whitelisted DDL mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.Evolution.Propose(cmd.Context(), args[0], "operator proposal")
			if err != nil {
				return err
			}
			fmt.Printf("mutation %d proposed\n", id)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revert ID",
		Short: "Roll back a promoted mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid mutation id %q", args[0])
			}
			if err := c.Evolution.Revert(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("mutation %d reverted\n", id)
			return nil
		},
	})
	return cmd
}

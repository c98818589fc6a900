package main

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-llmescache/pkg/embedstore"
	"github.com/spf13/cobra"
)

func newVectorsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Manage the embedding store",
	}

	getCmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Print the stored vectors of the keys, null where missing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			s, err := a.embedStore(cmd.Context())
			if err != nil {
				return err
			}
			vectors, err := s.MGet(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := make(map[string][]float32, len(args))
			for i, k := range args {
				out[k] = vectors[i]
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	var vector []float32
	setCmd := &cobra.Command{
		Use:   "set KEY",
		Short: "Store one vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			s, err := a.embedStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.MSet(cmd.Context(), []embedstore.Pair{{Key: args[0], Vector: vector}}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%d dimensions).\n", args[0], len(vector))
			return nil
		},
	}
	setCmd.Flags().Float32SliceVar(&vector, "vector", nil, "comma-separated vector components")
	_ = setCmd.MarkFlagRequired("vector")

	deleteCmd := &cobra.Command{
		Use:   "delete KEY...",
		Short: "Delete stored vectors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			s, err := a.embedStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.MDelete(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d keys.\n", len(args))
			return nil
		},
	}

	cmd.AddCommand(getCmd, setCmd, deleteCmd)
	return cmd
}

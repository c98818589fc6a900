package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/spf13/cobra"
)

func newProvisionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create or update the mappings of both caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			records, err := llmcache.New(ctx, a.backend, a.cfg.LLMCache, a.logger)
			if err != nil {
				return fmt.Errorf("provision llm cache: %w", err)
			}
			vectors, err := a.embedStore(ctx)
			if err != nil {
				return fmt.Errorf("provision embedding store: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "LLM cache:       %s%s\n", a.cfg.LLMCache.Index, aliasSuffix(records.IsAlias()))
			fmt.Fprintf(cmd.OutOrStdout(), "Embedding store: %s%s\n", a.cfg.EmbedStore.Index, aliasSuffix(vectors.IsAlias()))
			return nil
		},
	}
}

func aliasSuffix(isAlias bool) string {
	if isAlias {
		return " (alias)"
	}
	return ""
}

func newLookupCmd(opts *globalOptions) *cobra.Command {
	var prompt, llmString string

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Print the cached generations of an LLM call",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			c, closeFn, err := a.llmCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			gens, hit, err := c.Lookup(cmd.Context(), prompt, llmString)
			if err != nil {
				return err
			}
			if !hit {
				fmt.Fprintln(cmd.OutOrStdout(), "miss")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(gens)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt of the cached call")
	cmd.Flags().StringVar(&llmString, "llm-string", "", "serialized model parameters of the cached call")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	var prompt, llmString, file string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Store generations for an LLM call from a JSON file (- for stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			gens, err := readGenerations(cmd, file)
			if err != nil {
				return err
			}
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			c, closeFn, err := a.llmCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if err := c.Update(cmd.Context(), prompt, llmString, gens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d generations.\n", len(gens))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt of the call")
	cmd.Flags().StringVar(&llmString, "llm-string", "", "serialized model parameters of the call")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON array of generations")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func readGenerations(cmd *cobra.Command, file string) ([]llmcache.Generation, error) {
	r := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("read generations: %w", err)
		}
		defer f.Close()
		r = f
	}
	var gens []llmcache.Generation
	if err := json.NewDecoder(r).Decode(&gens); err != nil {
		return nil, fmt.Errorf("decode generations: %w", err)
	}
	return gens, nil
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached LLM record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			c, closeFn, err := a.llmCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if err := c.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cached records cleared.")
			return nil
		},
	}
}

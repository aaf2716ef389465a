package main

import (
	"cicdcopilot/internal/converter"
	"cicdcopilot/internal/mopparse"
	"cicdcopilot/internal/stepgraph"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JenkinsfileSuffix is appended to a source path when a script is written
// next to it.
const JenkinsfileSuffix = ".Jenkinsfile"

const convertConcurrency = 4

func newConvertCmd(opts *rootOptions) *cobra.Command {
	var strict, write bool
	cmd := &cobra.Command{
		Use:   "convert FILE...",
		Short: "Convert MOP documents to Jenkins pipeline scripts",
		Long: `Converts each MOP document to a declarative Jenkins pipeline.

A single file is printed to stdout unless --write is given. Several files
are always written next to their sources with a .Jenkinsfile suffix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts := make([]string, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(convertConcurrency)
			for i, path := range args {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					script, err := convertFile(path, strict)
					if err != nil {
						return err
					}
					scripts[i] = script
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if len(args) == 1 && !write {
				_, err := fmt.Fprint(cmd.OutOrStdout(), scripts[0])
				return err
			}
			for i, path := range args {
				target := path + JenkinsfileSuffix
				if err := os.WriteFile(target, []byte(scripts[i]), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", target, err)
				}
				opts.logger.Debug("wrote pipeline", zap.String("source", path), zap.String("target", target))
				fmt.Fprintln(cmd.OutOrStdout(), target)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of emitting the fallback script")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write FILE.Jenkinsfile even for a single input")
	return cmd
}

func newGraphCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Print the stage graph of a MOP document in DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readMop(args[0], true)
			if err != nil {
				return err
			}
			g, err := stepgraph.FromText(content)
			if err != nil {
				return fmt.Errorf("build graph for %s: %w", args[0], err)
			}
			opts.logger.Debug("built stage graph", zap.String("source", args[0]), zap.Int("stages", g.Len()))
			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			return g.WriteDOT(cmd.OutOrStdout(), stepgraph.GraphAttribute("label", name))
		},
	}
}

func convertFile(path string, strict bool) (string, error) {
	content, err := readMop(path, false)
	if err != nil {
		return "", err
	}
	if !strict {
		return converter.Convert(content, nil), nil
	}
	script, err := converter.Generate(content)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", path, err)
	}
	return script, nil
}

// readMop loads a MOP document after the upload checks. Without decode the
// text keeps any invalid UTF-8, so conversion reports it.
func readMop(path string, decode bool) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if err := mopparse.Validate(path, "", info.Size()); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if decode {
		return mopparse.DecodeText(data), nil
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcript"
)

func newConvertCmd() *cobra.Command {
	var (
		to, out   string
		unlabeled bool
	)
	cmd := &cobra.Command{
		Use:   "convert <transcript>",
		Short: "Re-render a saved transcript in another format",
		Long: "Reads a txt, srt, vtt or json transcript (format taken from the file extension)\n" +
			"and writes it in the --to format next to the input unless --out is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := convertFile(args[0], to, out, unlabeled)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target format: txt, srt, vtt or json")
	cmd.Flags().StringVar(&out, "out", "", "output path (default: input path with the new extension)")
	cmd.Flags().BoolVar(&unlabeled, "unlabeled", false, "keep a leading \"Speaker N: \" as text (input was not diarized)")
	cmd.MarkFlagRequired("to")
	return cmd
}

// convertFile parses in by extension, renders it as target and writes the
// result atomically. It returns the written path.
func convertFile(in, target, out string, unlabeled bool) (string, error) {
	from, err := transcript.ParseFormat(filepath.Ext(in))
	if err != nil {
		return "", fmt.Errorf("%s: %w", in, err)
	}
	to, err := transcript.ParseFormat(target)
	if err != nil {
		return "", err
	}
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + "." + to.Ext()
	}
	if filepath.Clean(out) == filepath.Clean(in) {
		return "", fmt.Errorf("output %s would overwrite the input", out)
	}

	f, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer f.Close()
	parse := transcript.Parse
	if unlabeled {
		parse = transcript.ParseUnlabeled
	}
	t, err := parse(f, from)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", in, err)
	}

	var buf bytes.Buffer
	if err := transcript.Render(&buf, t, to); err != nil {
		return "", fmt.Errorf("render %s: %w", to, err)
	}
	store := storage.NewLocalStore(filepath.Dir(out))
	if err := store.Save(context.Background(), filepath.Base(out), buf.Bytes(), to.ContentType()); err != nil {
		return "", err
	}
	return out, nil
}

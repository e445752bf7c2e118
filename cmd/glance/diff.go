package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/glance/internal/framediff"
)

func newDiffCmd() *cobra.Command {
	var (
		threshold float64
		minPixels int
	)
	cmd := &cobra.Command{
		Use:   "diff <image-a> <image-b>",
		Short: "Report whether two images differ enough to trigger analysis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.OutOrStdout(), args[0], args[1], threshold, minPixels)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", framediff.DefaultThreshold, "per-channel delta (0..1) above which a pixel counts as changed")
	cmd.Flags().IntVar(&minPixels, "min-pixels", framediff.DefaultMinDiffPixels, "changed pixels needed to call the images different")
	return cmd
}

func runDiff(w io.Writer, pathA, pathB string, threshold float64, minPixels int) error {
	a, err := os.ReadFile(pathA)
	if err != nil {
		return fmt.Errorf("read %s: %w", pathA, err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		return fmt.Errorf("read %s: %w", pathB, err)
	}
	res := framediff.New(threshold, minPixels).Compare(a, b)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/picsum-client/pkg/export"
	"github.com/Sternrassler/picsum-client/pkg/metadata"
)

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		count        int
		ids          []string
		out          string
		quality      int
		maxDimension int
		concurrency  int
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save full-size images as JPEG files",
		Long: `Fetches the listing, selects records by id (all when --ids is empty) and
writes each image as {id}.jpeg into the output directory together with a
manifest.yaml.`,
		Example: `  # Export three images from the first 100 records
  picsum export --count 100 --ids 10,11,12 --out ./photos`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = root.cfg.OutputDir
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			a, err := newApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := fetchRecords(cmd.Context(), a.coordinator, count)
			if err != nil {
				return err
			}

			selected, missing := selectRecords(records, ids)
			if len(missing) > 0 {
				return fmt.Errorf("ids not in the first %d records: %s", count, strings.Join(missing, ", "))
			}

			sink := &export.Sink{
				Dir:          out,
				Images:       a.resolver,
				Concurrency:  concurrency,
				Quality:      quality,
				MaxDimension: maxDimension,
				Timeout:      timeout,
			}
			report, err := sink.SaveAll(cmd.Context(), selected)
			fmt.Fprintln(cmd.OutOrStdout(), report.Message())
			return err
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 30, "number of records to fetch")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "record ids to export (default all fetched)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (PICSUM_OUTPUT_DIR)")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality 1-100 (default 90)")
	cmd.Flags().IntVar(&maxDimension, "max-dimension", 0, "downscale images whose longer side exceeds this")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel exports")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-image timeout")

	return cmd
}

// selectRecords returns the records whose ids are listed, in the order given,
// and the ids that were not found. An empty list selects everything.
func selectRecords(records []metadata.Record, ids []string) ([]metadata.Record, []string) {
	if len(ids) == 0 {
		return records, nil
	}

	byID := make(map[string]metadata.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	selected := make([]metadata.Record, 0, len(ids))
	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := byID[id]; ok {
			selected = append(selected, r)
		} else {
			missing = append(missing, id)
		}
	}
	return selected, missing
}

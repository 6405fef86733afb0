// Command octreeinspect is a thin debug tool for reading back a build's
// manifest and hierarchy without writing a Go program against the
// octree/ingest packages directly — the spatial-index analogue of the
// teacher's cmd/dump_hdf5, which dumps raw bytes from an HDF5 file for
// inspection rather than reconstructing a full reader. Flag parsing is via
// github.com/spf13/cobra, following the subcommand-per-action shape other
// manifest/storage tools in the retrieval pack use it for.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/chunkio"
	"github.com/spatialio/octree/internal/hierarchy"
)

var (
	localPath string
	s3Bucket  string
	s3Prefix  string
	gcsBucket string
	gcsPrefix string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "octreeinspect",
		Short: "Inspect a built point-cloud octree's manifest and hierarchy",
	}
	root.PersistentFlags().StringVar(&localPath, "path", "", "local directory holding the build output")
	root.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket holding the build output")
	root.PersistentFlags().StringVar(&s3Prefix, "s3-prefix", "", "S3 key prefix within --s3-bucket")
	root.PersistentFlags().StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket holding the build output")
	root.PersistentFlags().StringVar(&gcsPrefix, "gcs-prefix", "", "GCS object prefix within --gcs-bucket")

	root.AddCommand(manifestCmd(), hierarchyCmd())
	return root
}

func resolveEndpoint(ctx context.Context) (chunkio.Endpoint, error) {
	switch {
	case localPath != "":
		return chunkio.NewLocalEndpoint(localPath)
	case s3Bucket != "":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return chunkio.NewS3Endpoint(s3.NewFromConfig(cfg), s3Bucket, s3Prefix), nil
	case gcsBucket != "":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		return chunkio.NewGCSEndpoint(client, gcsBucket, gcsPrefix), nil
	default:
		return nil, fmt.Errorf("one of --path, --s3-bucket, --gcs-bucket is required")
	}
}

func manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the build's ept.json manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ep, err := resolveEndpoint(ctx)
			if err != nil {
				return err
			}
			data, err := ep.Get(ctx, octree.ManifestPath)
			if err != nil {
				return err
			}
			var mf octree.Manifest
			if err := json.Unmarshal(data, &mf); err != nil {
				return err
			}
			out, err := json.MarshalIndent(mf, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func hierarchyCmd() *cobra.Command {
	var sumOnly bool
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "List hierarchy entries (ChunkKey -> point count) from the build output",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ep, err := resolveEndpoint(ctx)
			if err != nil {
				return err
			}
			m, err := hierarchy.Load(ctx, ep, octree.HierarchyDir)
			if err != nil {
				return err
			}

			if sumOnly {
				var total uint64
				m.Each(func(_ octree.ChunkKey, count uint64) { total += count })
				fmt.Printf("%d chunks, %d points\n", m.Len(), total)
				return nil
			}

			type row struct {
				key   string
				count uint64
			}
			var rows []row
			m.Each(func(key octree.ChunkKey, count uint64) {
				rows = append(rows, row{key: key.String(), count: count})
			})
			sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
			for _, r := range rows {
				fmt.Printf("%s\t%d\n", r.key, r.count)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sumOnly, "sum", false, "print only the total chunk/point counts")
	return cmd
}

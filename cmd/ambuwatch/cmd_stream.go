package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.AddCommand(streamResolveCmd)

	streamResolveCmd.Flags().Int("camera", 1, "camera index (1-based)")
	streamResolveCmd.Flags().Int("parallel", 4, "devices resolved at once")
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Camera stream tools",
}

type resolution struct {
	device types.DeviceID
	url    string
	err    error
}

var streamResolveCmd = &cobra.Command{
	Use:   "resolve <device-id>...",
	Short: "Resolve playback URLs for one or more devices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		camera, _ := cmd.Flags().GetInt("camera")
		if camera < 1 {
			return fmt.Errorf("camera must be at least 1")
		}
		parallel, _ := cmd.Flags().GetInt("parallel")

		resolver := newResolver(cfg, newBackend(cfg))
		results := make([]resolution, len(args))

		g, ctx := errgroup.WithContext(context.Background())
		g.SetLimit(max(parallel, 1))
		for i, id := range args {
			g.Go(func() error {
				ref := types.DeviceRef{ID: types.DeviceID(id)}
				results[i] = resolution{device: ref.ID}
				p, err := resolver.Resolve(ctx, ref, camera)
				if err != nil {
					results[i].err = err
					return nil
				}
				results[i].url = p.URL
				return nil
			})
		}
		g.Wait()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tRESULT")
		failed := 0
		for _, r := range results {
			if r.err != nil {
				failed++
				fmt.Fprintf(w, "%s\t%s (%s)\n", r.device, stream.UserMessage(r.err), stream.KindOf(r.err))
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", r.device, r.url)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d devices failed", failed, len(results))
		}
		return nil
	},
}

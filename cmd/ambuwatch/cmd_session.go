package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/ambuwatch/internal/artifacts"
	"github.com/user/ambuwatch/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionDownloadCmd)

	sessionDownloadCmd.Flags().StringP("output", "o", "", "output file (default: the artifact's file name)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect session artifacts",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "List a session's notes, medications and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		be := newBackend(cfg)

		list, err := be.FetchArtifacts(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("fetch session: %w", err)
		}
		store := artifacts.NewStore()
		artifacts.NewReconciler(store).Seed(list)
		snap := store.Snapshot()

		counts := make([]string, 0, len(types.Kinds))
		for _, k := range types.Kinds {
			counts = append(counts, fmt.Sprintf("%s=%d", k, snap.Counts[k]))
		}
		fmt.Printf("Session %s (%s)\n\n", args[0], strings.Join(counts, " "))
		if len(list) == 0 {
			fmt.Println("No artifacts.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tADDED BY\tADDED AT\tCONTENT")
		for _, group := range [][]types.Artifact{snap.Notes, snap.Medications, snap.Files} {
			for _, a := range group {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.Kind, a.ID, a.AddedBy, formatTime(a.AddedAt), summary(a))
			}
		}
		return w.Flush()
	},
}

func summary(a types.Artifact) string {
	var s string
	switch a.Kind {
	case types.KindNote:
		s = strings.Join(strings.Fields(a.Content.Text), " ")
	case types.KindMedication:
		s = strings.TrimSpace(strings.Join([]string{a.Content.Name, a.Content.Dosage, a.Content.Route}, " "))
	case types.KindFile:
		s = fmt.Sprintf("%s (%d bytes)", a.Content.FileName, a.Content.FileSize)
	}
	if r := []rune(s); len(r) > 60 {
		s = string(r[:57]) + "..."
	}
	return s
}

var sessionDownloadCmd = &cobra.Command{
	Use:   "download <session-id> <artifact-id>",
	Short: "Download a file attached to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		be := newBackend(cfg)
		ctx := context.Background()
		sid, aid := types.SessionID(args[0]), types.ArtifactID(args[1])

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			list, err := be.FetchArtifacts(ctx, sid)
			if err != nil {
				return fmt.Errorf("fetch session: %w", err)
			}
			store := artifacts.NewStore()
			artifacts.NewReconciler(store).Seed(list)
			a, ok := store.Find(aid)
			if !ok || a.Kind != types.KindFile {
				return fmt.Errorf("file %s not found in session %s", aid, sid)
			}
			out = filepath.Base(a.Content.FileName)
		}

		body, err := be.DownloadFile(ctx, sid, aid)
		if err != nil {
			return fmt.Errorf("download file: %w", err)
		}
		defer body.Close()

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		n, err := io.Copy(f, body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(os.Stdout, "Saved %s (%d bytes).\n", out, n)
		return nil
	},
}

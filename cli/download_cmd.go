package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jgoldverg/grdt/cli/output"
	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/rdt"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
	"github.com/spf13/cobra"
)

// DownloadCommand fetches a file from the server, performing the SYN/SYN-ACK/ACK
// handshake and the FIN/FIN-ACK teardown around the DATA transfer.
func DownloadCommand() *cobra.Command {
	var proto protocolFlag
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <file>",
		Short: "Download a file from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			remoteName := args[0]

			resolvedProto, err := resolveProtocol(&proto, cfg.DefaultProtocol)
			if err != nil {
				return err
			}

			dest := outPath
			if dest == "" {
				dest = filepath.Base(remoteName)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, sock, err := dialAndHandshake(ctx, cfg, rdtwire.OpDownload, resolvedProto, remoteName)
			if err != nil {
				return err
			}
			defer sock.Close()

			tmpPath := dest + ".part"
			f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("create %s: %w", tmpPath, err)
			}

			progress := output.NewFileProgressManager("download")
			if err := progress.Start(); err != nil {
				f.Close()
				return err
			}
			defer progress.Stop()
			writer := progress.WrapWriter(filepath.Base(remoteName), 0, f)

			receiver := rdt.NewReceiver(sess.Socket, sess.Peer)
			start := time.Now()
			n, err := receiver.Receive(ctx, writer)
			closeErr := f.Close()
			if err != nil {
				os.Remove(tmpPath)
				return fmt.Errorf("download failed: %w", err)
			}
			if closeErr != nil {
				os.Remove(tmpPath)
				return fmt.Errorf("close %s: %w", tmpPath, closeErr)
			}
			if err := os.Rename(tmpPath, dest); err != nil {
				return fmt.Errorf("rename %s to %s: %w", tmpPath, dest, err)
			}
			if err := sess.WaitForTeardown(ctx); err != nil {
				return fmt.Errorf("teardown failed: %w", err)
			}

			internal.Info("download complete", internal.Fields{
				internal.FieldFile:     dest,
				internal.FieldBytes:    n,
				internal.FieldProtocol: resolvedProto.String(),
			})
			output.NewPrinter().Success("download complete", map[string]any{
				"file":     dest,
				"bytes":    n,
				"elapsed":  time.Since(start).Round(time.Millisecond).String(),
				"protocol": resolvedProto.String(),
			})
			return nil
		},
	}

	cmd.Flags().Var(&proto, "protocol", "sw (Stop-and-Wait) or gbn (Go-Back-N); defaults to config")
	cmd.Flags().StringVar(&outPath, "out", "", "local destination path (defaults to the remote file name)")
	return cmd
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jgoldverg/grdt/cli/output"
	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/rdt"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
	"github.com/jgoldverg/grdt/pkg/session"
	"github.com/spf13/cobra"
)

// UploadCommand sends a local file to the server, performing the SYN/SYN-ACK/ACK
// handshake and the FIN/FIN-ACK teardown around the DATA transfer.
func UploadCommand() *cobra.Command {
	var proto protocolFlag

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			path := args[0]

			resolvedProto, err := resolveProtocol(&proto, cfg.DefaultProtocol)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, sock, err := dialAndHandshake(ctx, cfg, rdtwire.OpUpload, resolvedProto, filepath.Base(path))
			if err != nil {
				return err
			}
			defer sock.Close()

			progress := output.NewFileProgressManager("upload")
			if err := progress.Start(); err != nil {
				return err
			}
			defer progress.Stop()
			reader := progress.WrapReader(filepath.Base(path), uint64(info.Size()), f)

			sender := rdt.NewSender(sess.Socket, sess.Peer, sess.Operation, sess.Protocol)
			start := time.Now()
			n, err := sender.Send(ctx, reader)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			if err := sess.Teardown(ctx); err != nil {
				return fmt.Errorf("teardown failed: %w", err)
			}

			internal.Info("upload complete", internal.Fields{
				internal.FieldFile:     path,
				internal.FieldBytes:    n,
				internal.FieldProtocol: resolvedProto.String(),
			})
			output.NewPrinter().Success("upload complete", map[string]any{
				"file":     path,
				"bytes":    n,
				"elapsed":  time.Since(start).Round(time.Millisecond).String(),
				"protocol": resolvedProto.String(),
			})
			return nil
		},
	}

	cmd.Flags().Var(&proto, "protocol", "sw (Stop-and-Wait) or gbn (Go-Back-N); defaults to config")
	return cmd
}

func dialAndHandshake(ctx context.Context, cfg *internal.ClientConfig, op rdtwire.Operation, proto rdtwire.Protocol, fileName string) (*session.Session, *endpoint.Socket, error) {
	serverAddr, err := resolveUDPAddr(cfg.ServerAddr)
	if err != nil {
		return nil, nil, err
	}

	sock, err := endpoint.Listen("0.0.0.0:0", endpoint.Options{
		ReadBufferSize:  cfg.SocketBufferSize,
		WriteBufferSize: cfg.SocketBufferSize,
	})
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.ClientHandshake(ctx, sock, serverAddr, op, proto, fileName)
	if err != nil {
		sock.Close()
		return nil, nil, err
	}
	return sess, sock, nil
}

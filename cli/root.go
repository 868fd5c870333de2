package cli

import (
	"context"
	"fmt"
	"net"

	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/rdtwire"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ctxKey string

const clientConfigCtxKey ctxKey = "clientConfig"

// NewRootCommand builds the grdt CLI: upload/download drive a transfer
// against a running server, serve runs the dispatcher itself.
func NewRootCommand() *cobra.Command {
	var configPath string
	var serverAddr string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "grdt",
		Short: "grdt moves files reliably over UDP",
		Long:  "grdt is a client for the Stop-and-Wait / Go-Back-N UDP file transfer protocol.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadClientConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load client config: %w", err)
			}
			if serverAddr != "" {
				cfg.ServerAddr = serverAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in client config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cmd.SetContext(context.WithValue(cmd.Context(), clientConfigCtxKey, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the client config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "server address (host:port), overrides config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn, error")

	rootCmd.AddCommand(UploadCommand())
	rootCmd.AddCommand(DownloadCommand())
	rootCmd.AddCommand(ServeCommand())

	return rootCmd
}

// protocolFlag implements pflag.Value so --protocol is validated at parse
// time rather than deep inside the transfer logic.
type protocolFlag struct {
	proto rdtwire.Protocol
	set   bool
}

func (f *protocolFlag) String() string {
	if !f.set {
		return ""
	}
	return f.proto.String()
}

func (f *protocolFlag) Set(v string) error {
	switch v {
	case "sw", "stop-and-wait":
		f.proto = rdtwire.ProtoStopAndWait
	case "gbn", "go-back-n":
		f.proto = rdtwire.ProtoGoBackN
	default:
		return fmt.Errorf("unknown protocol %q (want sw or gbn)", v)
	}
	f.set = true
	return nil
}

func (f *protocolFlag) Type() string { return "protocol" }

var _ pflag.Value = (*protocolFlag)(nil)

// resolveProtocol picks the flag's value when set, else the config default.
func resolveProtocol(flag *protocolFlag, configVal string) (rdtwire.Protocol, error) {
	if flag.set {
		return flag.proto, nil
	}
	switch configVal {
	case "sw", "stop-and-wait":
		return rdtwire.ProtoStopAndWait, nil
	case "gbn", "go-back-n", "":
		return rdtwire.ProtoGoBackN, nil
	default:
		return rdtwire.ProtocolNone, fmt.Errorf("unknown protocol %q in config (want sw or gbn)", configVal)
	}
}

func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return nil, fmt.Errorf("no server address configured (set --server or server_addr in the config file)")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve server address %q: %w", addr, err)
	}
	return udpAddr, nil
}

func getClientConfig(cmd *cobra.Command) *internal.ClientConfig {
	if v := cmd.Context().Value(clientConfigCtxKey); v != nil {
		if cfg, ok := v.(*internal.ClientConfig); ok {
			return cfg
		}
	}
	return nil
}

package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/ValentinKolb/dHA/rpc/transport/tcp"
	"github.com/ValentinKolb/dHA/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DHA_ENDPOINT)
	EnvPrefix = "dha"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and lets viper read DHA_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Transports
// --------------------------------------------------------------------------

// GetServerTransport creates the server transport selected by the "transport" flag
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "tcp":
		return tcp.NewTCPDefaultServerTransport(), nil
	case "unix":
		return unix.NewUnixDefaultServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", name)
	}
}

// GetClientTransportFactory returns a constructor for the client transport
// selected by the "transport" flag. The broker needs a fresh transport for
// every master it connects to.
func GetClientTransportFactory() (func() transport.IRPCClientTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	case "unix":
		return unix.NewUnixClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", name)
	}
}

// --------------------------------------------------------------------------
// Client flags
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds the connection flags used to reach a master
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "master"
	cmd.PersistentFlags().String(key, "127.0.0.1:6361", WrapString("The HA endpoint of the master (tcp address or unix socket path)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 20, WrapString("The timeout in seconds of a single request"))

	key = "connect-retries"
	cmd.PersistentFlags().Int(key, 5, WrapString("How many times to try to open a connection"))

	key = "connect-backoff"
	cmd.PersistentFlags().Int(key, 500, WrapString("Pause between two connection attempts in milliseconds"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize, WrapString("The largest frame accepted from the master in bytes"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (only for tcp, 0 keeps the OS default)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig(viper.GetString("master"))
	conf.TimeoutSecond = viper.GetInt("timeout")
	conf.ConnectRetries = viper.GetInt("connect-retries")
	conf.ConnectBackoffMillis = viper.GetInt("connect-backoff")
	conf.MaxFrameSize = viper.GetInt("max-frame-size")
	conf.TCPNoDelay = viper.GetBool("tcp-nodelay")
	conf.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	return conf
}

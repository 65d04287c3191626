package util

import (
	"strings"

	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/common"
	"github.com/ValentinKolb/objgraph/lib/demo"
	"github.com/ValentinKolb/objgraph/lib/dump"
	"github.com/ValentinKolb/objgraph/lib/streamio"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
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

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("objgraph")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetCodecConfig reads the codec configuration from viper
func GetCodecConfig() *common.CodecConfig {
	return &common.CodecConfig{
		Filter:      viper.GetString("filter"),
		Compression: viper.GetString("compression"),
		Format:      viper.GetString("format"),
		LogLevel:    viper.GetString("log-level"),
		Metrics:     viper.GetBool("metrics"),
	}
}

// GetFilter parses the configured decode filter
func GetFilter() (codec.FilterPolicy, error) {
	return GetCodecConfig().FilterPolicy()
}

// GetCompression parses the configured compression
func GetCompression() (streamio.Compression, error) {
	return streamio.ParseCompression(viper.GetString("compression"))
}

// GetSerializer creates the dump serializer of the configured format
func GetSerializer() (dump.IDumpSerializer, error) {
	return dump.NewSerializer(viper.GetString("format"))
}

// GetRegistry returns the demo registry. legacy selects the registry of the
// release that wrote Person at version 1.
func GetRegistry(legacy bool) (*codec.Registry, error) {
	if legacy {
		return demo.NewLegacyRegistry()
	}
	return demo.NewRegistry()
}

package stream

import (
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/streamio"
	dlog "github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	logger = dlog.GetLogger("cli")

	// Commands are the stream commands, added to the root command
	Commands = []*cobra.Command{
		writeCmd,
		readCmd,
		inspectCmd,
		copyCmd,
		perfTestCmd,
	}
)

// openStream opens a stream file, or stdin for "-"
func openStream(path string) (io.ReadCloser, error) {
	if path == "-" {
		r, c, err := streamio.NewReader(os.Stdin)
		if err != nil {
			return nil, err
		}
		logger.Debugf("reading stdin (compression %s)", c)
		return r, nil
	}
	r, c, err := streamio.Open(path)
	if err != nil {
		return nil, err
	}
	logger.Debugf("reading %s (compression %s)", path, c)
	return r, nil
}

// describe renders a decoded root for the terminal
func describe(v codec.Value) string {
	if v.Kind != codec.KindRef {
		return v.String()
	}
	return fmt.Sprintf("%T %+v", v.AsRef(), v.AsRef())
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig   string
	flagBuffers  int
	flagFourcc   string
	flagGeometry string
	flagField    string
	flagFrames   int
	flagMonitor  string
	flagRecord   string
	flagShow     string
	flagLogLevel string
	flagHelp     bool
	flagVersion  bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "Configuration file")
	flag.IntVarP(&flagBuffers, "buffers", "n", 4, "Number of buffers to request")
	flag.StringVarP(&flagFourcc, "format", "f", "UYVY", "Pixel format fourcc")
	flag.StringVarP(&flagGeometry, "geometry", "g", "720x576", "Picture size, in pixels")
	flag.StringVarP(&flagField, "field", "", "none", "Field order")
	flag.IntVarP(&flagFrames, "frames", "", 100, "Number of frames to display")
	flag.StringVarP(&flagMonitor, "monitor", "m", "", "Monitor listen address")
	flag.StringVarP(&flagRecord, "record", "r", "", "Record dequeued buffers to a file")
	flag.StringVarP(&flagShow, "show", "", "", "Print a recording and exit")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "", "Logging directives")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Stream pictures through a simulated video output plane

Usage: voutd [OPTION]...

Device:
  -c, --config=FILE      YAML configuration (default: built-in defaults)
  -n, --buffers=NUM      Number of buffers to request (default: 4)
  -m, --monitor=ADDR     Serve stream events on ADDR, e.g. 127.0.0.1:8099

Picture:
  -f, --format=FOURCC    Pixel format, e.g. UYVY, 420B, CLT8 (default: UYVY)
  -g, --geometry=WxH     Picture size (default: 720x576)
      --field=ORDER      none, interlaced, tb or bt (default: none)
      --frames=NUM       Frames to display before stopping (default: 100)

Recording:
  -r, --record=FILE      Write the format and every dequeued buffer to FILE
      --show=FILE        Print a recording and exit

Miscellaneous:
  -l, --log-level=DIRS   Logging directives, e.g. debug,bpa=trace
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits`

// Help information is printed and program exits
func help() {
	c := color.New(color.FgCyan, color.Bold)
	c.Println("voutd")
	fmt.Println(helpString)
}

func version() {
	fmt.Println("voutd", GitRevisionId)
}

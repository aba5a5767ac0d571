// scopectl talks to a Rigol DS1000Z oscilloscope and exposes an HTTP
// interface to it.  It can also capture the sample memory directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/rigol"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

var (
	cfg    Config
	logger *log.Logger

	captureChannel int
	capturePoints  int
	captureOut     string
	captureAll     bool
	shotOut        string
)

var rootCmd = &cobra.Command{
	Use:   "scopectl",
	Short: "scopectl talks to Rigol DS1000Z oscilloscopes",
	Long: `scopectl communicates with a Rigol DS1000Z oscilloscope over LAN, USB or serial
and exposes an HTTP interface to it.  It can also transfer the full sample
memory of a channel, which the scope only gives up in chunks.

Configuration is read from rigolab.yml in the working directory, if present.
Use mkconf to write the defaults there.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupconfig(); err != nil {
			return err
		}
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(c.LogLevel)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "serve the scope over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cfg, logger)
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "transfer the sample memory of a channel",
	Long: `capture stops the scope, reads the sample memory of one channel in windows of
ChunkSize points, and resumes acquisition.  A summary is printed; the waveform
is written as JSON with --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScope(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		if captureAll {
			return doCaptureAll(ctx, s)
		}
		return doCapture(ctx, s)
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "save the display as a PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScope(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		img, err := s.Screenshot()
		if err != nil {
			return err
		}
		return os.WriteFile(shotOut, img, 0644)
	},
}

var idnCmd = &cobra.Command{
	Use:   "idn",
	Short: "print the identity of the scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScope(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		id, err := s.Identity()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var rawCmd = &cobra.Command{
	Use:   "raw <command>",
	Short: "send a SCPI command, printing the response of queries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScope(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		resp, err := s.Raw(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if resp != "" {
			fmt.Println(resp)
		}
		return nil
	},
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "write the current configuration to " + ConfigFileName,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mkconf()
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printconf()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scopectl version %v\n", Version)
	},
}

func init() {
	captureCmd.Flags().IntVarP(&captureChannel, "channel", "c", 1, "source channel, 1-4")
	captureCmd.Flags().IntVarP(&capturePoints, "points", "n", 0, "number of points, 0 for the whole memory")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "write the waveform as JSON to this file")
	captureCmd.Flags().BoolVar(&captureAll, "all", false, "capture every enabled channel")
	screenshotCmd.Flags().StringVarP(&shotOut, "out", "o", "screenshot.png", "output file")
	rootCmd.AddCommand(runCmd, captureCmd, screenshotCmd, idnCmd, rawCmd, mkconfCmd, confCmd, versionCmd)
}

func newSpinner(msg string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
	})
}

func doCapture(ctx context.Context, s *rigol.Scope) error {
	spin, err := newSpinner("connecting")
	if err != nil {
		return err
	}
	spin.Start()
	req := rigol.CaptureRequest{
		Channel: captureChannel,
		Points:  capturePoints,
		Progress: func(chunk, chunks int, w capture.Window) {
			spin.Message(fmt.Sprintf("chunk %d/%d, points %s", chunk+1, chunks, w))
		},
	}
	res, err := s.Capture(ctx, req)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		return err
	}
	spin.StopMessage(fmt.Sprintf("CH%d", captureChannel))
	spin.Stop()
	printSummary(os.Stdout, res)
	if captureOut == "" {
		return nil
	}
	return writeJSON(captureOut, res)
}

func doCaptureAll(ctx context.Context, s *rigol.Scope) error {
	spin, err := newSpinner("capturing every enabled channel")
	if err != nil {
		return err
	}
	spin.Start()
	all, err := s.CaptureAll(ctx)
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		return err
	}
	spin.Stop()
	printSummaries(os.Stdout, all)
	if captureOut == "" {
		return nil
	}
	return writeJSON(captureOut, all)
}

// printSummaries prints one line per channel in channel order
func printSummaries(w io.Writer, all map[int]capture.Result) {
	chans := make([]int, 0, len(all))
	for ch := range all {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	for _, ch := range chans {
		printSummary(w, all[ch])
	}
}

func printSummary(w io.Writer, res capture.Result) {
	wav := res.Waveform
	fmt.Fprintf(w, "CH%d: %d points at %g Sa/s in %d chunks, %v, crc32 %08x\n",
		wav.Channel, wav.Points, wav.SampleRate, res.Chunks, res.Elapsed.Round(time.Millisecond), res.Checksum)
}

func writeJSON(name string, v interface{}) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command uartctl opens a serial port by device index and drives it from
// flags, a command console on stdin, or the debug HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/banshee-data/uartbridge/internal/capture"
	"github.com/banshee-data/uartbridge/internal/config"
	"github.com/banshee-data/uartbridge/internal/console"
	"github.com/banshee-data/uartbridge/internal/monitoring"
	"github.com/banshee-data/uartbridge/internal/uart"
	"github.com/banshee-data/uartbridge/internal/version"
)

// devBanner is queued on the in-memory port used by -dev.
const devBanner = "uartctl dev port\r\n>"

type options struct {
	configPath  string
	driver      string
	index       int
	baud        int
	capture     string
	listen      string
	dev         bool
	list        bool
	write       string
	read        bool
	prompt      bool
	interactive bool
	showVersion bool
	quiet       bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("uartctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "Path to JSON config file (default "+config.DefaultConfigPath+" if present)")
	fs.StringVar(&o.driver, "driver", config.DriverBugst, "Serial driver: bugst or tarm")
	fs.IntVar(&o.index, "index", 0, "Device index into the sorted port list")
	fs.IntVar(&o.baud, "baud", uart.DefaultBaudRate, "Baud rate")
	fs.StringVar(&o.capture, "capture", "", "Record transfers to this SQLite file")
	fs.StringVar(&o.listen, "listen", "", "Serve /metrics and /debug/ on this address")
	fs.BoolVar(&o.dev, "dev", false, "Use an in-memory port instead of hardware")
	fs.BoolVar(&o.list, "list", false, "List serial ports and exit")
	fs.StringVar(&o.write, "write", "", "Write this text (Go escapes allowed)")
	fs.BoolVar(&o.read, "read", false, "Read once and print the result")
	fs.BoolVar(&o.prompt, "prompt", false, "Read until the prompt character and print the result")
	fs.BoolVar(&o.interactive, "console", false, "Run the command console on stdin")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&o.quiet, "quiet", false, "Suppress log output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// loadConfig reads the config file, if any, and applies explicit flags on
// top of it.
func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Default()
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.set["driver"] {
		cfg.Driver = o.driver
	}
	if o.set["index"] {
		cfg.DeviceIndex = o.index
	}
	if o.set["baud"] {
		cfg.UART.BaudRate = o.baud
	}
	if o.set["capture"] {
		cfg.CaptureDB = o.capture
	}
	if o.set["listen"] {
		cfg.Listen = o.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func listPorts(w io.Writer) error {
	ports, err := uart.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tUSB\tVID:PID\tPRODUCT")
	for _, p := range ports {
		ids := ""
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", p.Index, p.Name, p.IsUSB, ids, p.Product)
	}
	return tw.Flush()
}

// openUART builds the opener chain for cfg and opens the handle.
func openUART(cfg *config.Config, dev bool) (*uart.UART, *capture.DB, error) {
	var opener uart.Opener
	if dev {
		port := uart.NewTestablePort("/dev/mock0")
		port.AddReadData([]byte(devBanner))
		opener = uart.NewMockOpener(port)
	} else {
		var err error
		if opener, err = cfg.Opener(); err != nil {
			return nil, nil, err
		}
	}

	var db *capture.DB
	if cfg.CaptureDB != "" {
		var err error
		if db, err = capture.Open(cfg.CaptureDB); err != nil {
			return nil, nil, fmt.Errorf("failed to open capture database: %w", err)
		}
		opener = &capture.Opener{Opener: opener, DB: db}
	}

	u, err := uart.Open(opener, cfg.DeviceIndex, cfg.UART.BaudRate)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}

	u.SetReadBufSize(cfg.UART.ReadBufSize)
	u.SetPrompt(cfg.UART.Prompt)
	if t := cfg.UART; t.ReadTimeout > 0 || t.WriteTimeout > 0 || t.InterCharTimeout > 0 {
		if err := u.SetTimeout(t.ReadTimeout, t.WriteTimeout, t.InterCharTimeout); err != nil {
			u.Close()
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
	}
	return u, db, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String("uartctl"))
		return nil
	}
	if o.quiet {
		monitoring.SetLogger(nil)
	}
	if o.list {
		return listPorts(stdout)
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	u, db, err := openUART(cfg, o.dev)
	if err != nil {
		return err
	}
	defer u.Close()
	if db != nil {
		defer db.Close()
	}

	admin := uart.NewAdmin(u)
	c := console.New(u, stdout)
	c.SetLocker(admin)

	// one-shot actions run through the console so they print the same way
	var oneShot []string
	if o.write != "" {
		oneShot = append(oneShot, "write "+o.write)
	}
	if o.read {
		oneShot = append(oneShot, "read")
	}
	if o.prompt {
		oneShot = append(oneShot, "prompt")
	}
	for _, line := range oneShot {
		if _, err := c.Exec(line); err != nil {
			return err
		}
	}

	if cfg.Listen == "" && !o.interactive {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var serveErr error
	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.MetricsHandler())
		admin.AttachAdminRoutes(mux)
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}

		server := &http.Server{Addr: cfg.Listen, Handler: mux}
		errc := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case err := <-errc:
				serveErr = fmt.Errorf("HTTP server failed: %w", err)
				cancel()
				return
			case <-ctx.Done():
			}
			monitoring.Logf("shutting down HTTP server...")

			shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
			defer stop()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					monitoring.Logf("HTTP server force close error: %v", err)
				}
			}
			monitoring.Logf("HTTP server routine stopped")
		}()
		monitoring.Logf("serving debug routes on %s", cfg.Listen)
	}

	if o.interactive {
		err := c.Run(stdin)
		cancel()
		wg.Wait()
		if err != nil {
			return err
		}
		return serveErr
	}

	<-ctx.Done()
	wg.Wait()
	return serveErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Printf("uartctl: %v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps driver status codes onto the process exit status so scripts
// can tell a busy port from a missing one.
func exitCode(err error) int {
	var uerr *uart.Error
	if errors.As(err, &uerr) && uerr.Code != uart.NoCode {
		if code := -uerr.Code; code > 0 && code < 126 {
			return code
		}
	}
	return 1
}

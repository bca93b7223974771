package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/dnsniff/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run [interface]",
	Short: "Capture and decode DNS traffic",
	Long: `Capture DNS over UDP on an interface, or replay a pcap file, until interrupted.

Flags override the configuration file; the file overrides the defaults.

Examples:
  dnsniff run eth0                          # 1 worker per CPU, hash fan-out
  dnsniff run -i eth0 -w 4 --fanout cpu     # 4 workers, CPU fan-out
  dnsniff run --pcap dns.pcap --format json # replay a capture as JSON lines
  dnsniff run -c /etc/dnsniff/dnsniff.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := runOverrides(cmd.Flags(), args)
		if err != nil {
			return err
		}
		d, err := daemon.New(configFile, overrides)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			d.Stop()
			return err
		}
		return d.Run()
	},
}

func init() {
	runCmd.Flags().AddFlagSet(newRunFlags())
}

func newRunFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.StringP("interface", "i", "", "network interface to capture on")
	f.IntP("workers", "w", 0, "number of rings and workers (0 = number of CPUs)")
	f.String("fanout", "hash", "fan-out mode: hash, lb, cpu, rollover, random, qm")
	f.Uint16("fanout-id", 0, "fan-out group id (0 = derived from the PID)")
	f.Bool("defrag", false, "let the kernel defragment IP before fan-out")
	f.String("backend", "tpacket", "capture backend: tpacket, afpacket, pcap")
	f.String("pcap", "", "replay a pcap file instead of capturing")
	f.UintSlice("ports", []uint{53}, "UDP ports carrying DNS")
	f.Bool("kernel-filter", false, "attach a BPF prefilter for the DNS ports")
	f.String("sink", "console", "event sink: console, log, kafka, discard")
	f.String("format", "text", "console format: text, json")
	f.Duration("stats-interval", time.Second, "telemetry interval")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	return f
}

// runOverrides maps the flags the user actually set onto configuration keys.
func runOverrides(flags *pflag.FlagSet, args []string) (map[string]any, error) {
	overrides := make(map[string]any)
	set := func(name, key string, value func() any) {
		if flags.Changed(name) {
			overrides[key] = value()
		}
	}
	str := func(name string) func() any {
		return func() any { v, _ := flags.GetString(name); return v }
	}

	set("interface", "capture.interface", str("interface"))
	set("workers", "capture.workers", func() any { v, _ := flags.GetInt("workers"); return v })
	set("fanout", "capture.fanout", str("fanout"))
	set("fanout-id", "capture.fanout_id", func() any { v, _ := flags.GetUint16("fanout-id"); return v })
	set("defrag", "capture.defrag", func() any { v, _ := flags.GetBool("defrag"); return v })
	set("backend", "capture.backend", str("backend"))
	set("pcap", "capture.pcap_file", str("pcap"))
	if flags.Changed("ports") {
		v, _ := flags.GetUintSlice("ports")
		ports := make([]uint16, len(v))
		for i, p := range v {
			if p > math.MaxUint16 {
				return nil, fmt.Errorf("invalid --ports value %d: must be at most %d", p, math.MaxUint16)
			}
			ports[i] = uint16(p)
		}
		overrides["decoder.ports"] = ports
	}
	set("kernel-filter", "capture.kernel_filter.enabled", func() any { v, _ := flags.GetBool("kernel-filter"); return v })
	set("sink", "sink.type", str("sink"))
	set("format", "sink.format", str("format"))
	set("stats-interval", "stats.interval", func() any { v, _ := flags.GetDuration("stats-interval"); return v })
	set("log-level", "log.level", str("log-level"))

	if flags.Changed("metrics-listen") {
		overrides["metrics.enabled"] = true
		overrides["metrics.listen"], _ = flags.GetString("metrics-listen")
	}
	if len(args) == 1 {
		overrides["capture.interface"] = args[0]
	}
	if flags.Changed("pcap") && !flags.Changed("backend") {
		overrides["capture.backend"] = "pcap"
	}
	return overrides, nil
}

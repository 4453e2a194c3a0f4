// mipsrun loads a raw MIPS III/IV image into RAM and runs it on the recompiler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/colorfulnotion/mipsdrc/log"
	"github.com/colorfulnotion/mipsdrc/mips3"
	"github.com/nsf/jsondiff"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "mipsrun",
		Short: "MIPS III/IV dynamic recompiler runner",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		logLevel string
		debug    string
		otlp     string
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated log modules to enable (drc, mips3, tlb, all)")
	rootCmd.PersistentFlags().StringVar(&otlp, "otlp", "", "OTLP/HTTP collector endpoint for recompile traces")

	var shutdown func(context.Context) error
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log.InitLogger(logLevel)
		log.EnableModules(debug)
		if otlp == "" {
			return nil
		}
		var err error
		shutdown, err = initTracing(cmd.Context(), otlp)
		return err
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	}

	var (
		runOpts    machineOptions
		budget     int
		slice      int
		saveTo     string
		dumpLookup bool
		showCOP0   bool
	)
	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run an image for a cycle budget and print the machine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMachine(&runOpts)
			if err != nil {
				return err
			}
			start := time.Now()
			used, runErr := m.run(budget, slice)
			elapsed := time.Since(start)
			fmt.Printf("Executed %d cycles in %v (%d flushes, %d ops in cache)\n",
				used, elapsed, m.cpu.DRC().Flushes(), m.cpu.DRC().Top())
			printRegisters(os.Stdout, m.cpu)
			if showCOP0 {
				printCOP0(os.Stdout, m.cpu)
				printTLB(os.Stdout, m.cpu)
			}
			if dumpLookup {
				fmt.Print(lookupTree(m.cpu.DRC()).String())
			}
			if saveTo != "" {
				if err := m.saveContext(saveTo); err != nil {
					return err
				}
				fmt.Printf("✓ Context saved to %s\n", saveTo)
			}
			return runErr
		},
	}
	runOpts.register(runCmd)
	runCmd.Flags().IntVar(&budget, "cycles", 1_000_000, "cycle budget")
	runCmd.Flags().IntVar(&slice, "slice", 10_000, "cycles per Execute call")
	runCmd.Flags().StringVar(&saveTo, "save", "", "write the final context to this file")
	runCmd.Flags().BoolVar(&dumpLookup, "dump-lookup", false, "print the PC lookup pages")
	runCmd.Flags().BoolVar(&showCOP0, "cop0", false, "print COP0 registers and the TLB")

	var (
		monOpts  machineOptions
		monSlice int
		history  string
	)
	var monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "Interactive JavaScript console for stepping an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMachine(&monOpts)
			if err != nil {
				return err
			}
			return monitor(m, monSlice, history)
		},
	}
	monOpts.register(monitorCmd)
	monitorCmd.Flags().IntVar(&monSlice, "slice", 10_000, "cycles per Execute call")
	monitorCmd.Flags().StringVar(&history, "history", "/tmp/mipsrun_history.txt", "readline history file")

	var (
		listOpts machineOptions
		listPC   uint32
		warmup   int
	)
	var listingCmd = &cobra.Command{
		Use:   "listing",
		Short: "Run until a block is compiled at --pc and print its x86-64 listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMachine(&listOpts)
			if err != nil {
				return err
			}
			if _, err := m.run(warmup, warmup); err != nil {
				return err
			}
			text, err := m.cpu.Listing(listPC)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
	listOpts.register(listingCmd)
	listingCmd.Flags().Uint32Var(&listPC, "pc", 0x80001000, "block start address")
	listingCmd.Flags().IntVar(&warmup, "cycles", 1, "cycles to run before listing")

	var diffCmd = &cobra.Command{
		Use:   "diff <context-a> <context-b>",
		Short: "Compare the registers of two saved contexts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := contextJSON(args[0])
			if err != nil {
				return err
			}
			b, err := contextJSON(args[1])
			if err != nil {
				return err
			}
			opts := jsondiff.DefaultConsoleOptions()
			match, text := jsondiff.Compare(a, b, &opts)
			if match == jsondiff.FullMatch {
				fmt.Println("✓ contexts match")
				return nil
			}
			fmt.Println(text)
			return fmt.Errorf("contexts differ: %v", match)
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mipsrun %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, monitorCmd, listingCmd, diffCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// contextJSON loads a saved context into a scratch CPU and returns its registers as JSON.
func contextJSON(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	bus := mips3.NewRAMBus(0, 1<<12, mips3.BigEndian)
	cfg := mips3.DefaultConfig()
	cfg.CacheSize = 1 << 12
	cfg.DangerMargin = 1 << 10
	cfg.MaxInstructions = 16
	cpu, err := mips3.New(cfg, bus)
	if err != nil {
		return nil, err
	}
	if err := cpu.LoadContext(image); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return json.Marshal(cpu.Snapshot())
}

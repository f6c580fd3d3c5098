package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and host information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ravenroost version %s\n", version)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  cpus:     %d\n", runtime.NumCPU())
		if feats := cpuFeatures(); len(feats) > 0 {
			fmt.Fprintf(out, "  features: %s\n", strings.Join(feats, " "))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// cpuFeatures lists the SIMD extensions relevant to objective evaluation.
func cpuFeatures() []string {
	var feats []string
	add := func(name string, ok bool) {
		if ok {
			feats = append(feats, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add("sse4.1", cpu.X86.HasSSE41)
		add("avx", cpu.X86.HasAVX)
		add("avx2", cpu.X86.HasAVX2)
		add("fma", cpu.X86.HasFMA)
		add("avx512f", cpu.X86.HasAVX512F)
	case "arm64":
		add("asimd", cpu.ARM64.HasASIMD)
		add("sve", cpu.ARM64.HasSVE)
	}
	return feats
}

package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var fVerbose bool

var rootCmd = &cobra.Command{
	Use:   "luckystack",
	Short: "Lucky imaging stacker for planetary and surface video bursts",
	Long: `luckystack turns a burst of atmospherically-degraded frames into a
single sharp image: it ranks frames by quality, registers them
globally, then stacks only the locally-best de-warped patches around a
mesh of alignment points.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetOutput(os.Stdout)
		logrus.SetLevel(logrus.InfoLevel)
		if fVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&fVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(newStackCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("luckystack v1.0.0")
		},
	}
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"powchain/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "powchain",
	Short: "Proof-of-work chain node",
	Long: `powchain keeps an append-only chain of hash-linked blocks and mines
new blocks with a parallel proof-of-work search.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command. It is called once
// by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(startNodeCmd)
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.powchain/config.yaml or ./config.yaml)")

	// Default di sini hanya untuk teks bantuan; nilai akhir ditentukan viper.
	flags.String("datadir", config.DefaultConfig.DataDir, "Data directory for chain data")
	flags.Uint("difficulty", config.DefaultConfig.Difficulty, "Required leading zero bits of every block hash (0-256)")
	flags.Int("workers", config.DefaultConfig.Workers, "Concurrent nonce searches per mining round")
	flags.Uint64("check_interval", config.DefaultConfig.CheckInterval, "Nonce trials between cancellation checks")
	flags.Uint64("nonce_limit", config.DefaultConfig.NonceLimit, "Exclusive upper bound of the nonce space (0 = full range)")
	flags.Duration("stop_timeout", config.DefaultConfig.StopTimeout, "How long to wait for workers after a round resolves")
	flags.String("log_level", config.DefaultConfig.LogLevel, "Logging level (debug, info, warn, error, fatal)")
	flags.Bool("log_json", config.DefaultConfig.LogJSON, "Emit logs as JSON")

	for _, name := range []string{
		"datadir", "difficulty", "workers", "check_interval", "nonce_limit",
		"stop_timeout", "log_level", "log_json",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// initConfig reads the config file and environment variables, if any.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".powchain"))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("POWCHAIN") // e.g. POWCHAIN_DIFFICULTY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		fmt.Fprintf(os.Stderr, "Error reading config file '%s': %s\n", viper.ConfigFileUsed(), err)
	}
}

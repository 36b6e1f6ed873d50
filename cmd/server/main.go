package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PailletJuanPablo/hyperiondb/pkg/api"
	"github.com/PailletJuanPablo/hyperiondb/pkg/config"
	"github.com/PailletJuanPablo/hyperiondb/pkg/core"
	"github.com/PailletJuanPablo/hyperiondb/pkg/monitor"
	"github.com/PailletJuanPablo/hyperiondb/pkg/network"
	"github.com/PailletJuanPablo/hyperiondb/pkg/protocol"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "hyperiondb",
	Short: "sharded document database",
	Long: fmt.Sprintf(`HyperionDB (v%s)

A sharded, schemaless document database served over a line-based TCP
protocol, with secondary indexes and a small condition-query language.`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("HyperionDB v%s\n", version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HyperionDB server",
	Long: `Start the HyperionDB server. Settings come from the YAML config file,
overridable per-setting via flags or HYPERIONDB_<FLAG> environment
variables (e.g. HYPERIONDB_NUM_SHARDS=16).`,
	RunE: runServe,
}

func init() {
	cobra.OnInitialize(initEnv)

	// Empty/zero flag defaults mean "not set": the YAML value wins unless a
	// flag or environment variable overrides it.
	serveCmd.Flags().String("config", "", "path to YAML config file")
	serveCmd.Flags().String("addr", "", "TCP listen address")
	serveCmd.Flags().String("http-addr", "", "HTTP stats/metrics address")
	serveCmd.Flags().String("data-dir", "", "data directory")
	serveCmd.Flags().String("backend", "", "storage backend (sqlite, snapshot)")
	serveCmd.Flags().Int("num-shards", 0, "shard count (fixed at first start)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("hyperiondb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("http-addr"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := viper.GetString("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := viper.GetInt("num-shards"); v > 0 {
		cfg.System.NumShards = v
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := core.Open(cfg)
	if err != nil {
		return err
	}

	stats := monitor.NewWorkloadStats()
	handler := protocol.NewHandler(db, stats)
	srv := network.NewTCPServer(handler, time.Duration(cfg.Server.IdleTimeout)*time.Second)

	go func() {
		if err := api.NewServer(db, stats).Start(cfg.Server.HTTPAddr); err != nil {
			log.Printf("[API] server stopped: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		db.Close()
		return err
	case sig := <-sigCh:
		log.Printf("[Server] received %v, shutting down", sig)
		srv.Stop()
		if err := db.Close(); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

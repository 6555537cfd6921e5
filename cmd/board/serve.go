package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/launchboard/internal/board/assets"
	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/gateway"
	"github.com/steveyegge/launchboard/internal/board/logging"
	"github.com/steveyegge/launchboard/internal/board/metrics"
	boardsync "github.com/steveyegge/launchboard/internal/board/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Start the board server",
	Long: `Start the board server: the live channel at /ws, the bootstrap fetch at
/initial-state, icon uploads at /items, and /health and /metrics.

Icon uploads are enabled when an asset store is configured, either with
--assets (s3://bucket/prefix/?region=...&endpoint=... or file:///var/lib/board/assets)
or with BOARD_S3_BUCKET, BOARD_S3_REGION and BOARD_S3_ENDPOINT. S3
credentials come from the standard AWS chain (AWS_ACCESS_KEY_ID,
AWS_SECRET_ACCESS_KEY, shared profiles).

Example usage:
  board serve                                     # SQLite board.db on :3001
  board serve --dsn postgres://localhost/board
  board serve --allowed-origin http://localhost:3000 --watch-config`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		engineCfg, err := engineConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, err := db.Open(ctx, viper.GetString("dsn"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		publicURL := viper.GetString("public_url")
		if publicURL == "" {
			publicURL = fmt.Sprintf("http://localhost:%d", viper.GetInt("port"))
		}
		assetStore, err := assets.Open(ctx, assetStoreURL(), assets.Options{
			Secret:    []byte(viper.GetString("asset_secret")),
			PublicURL: publicURL,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening asset store: %v\n", err)
			os.Exit(1)
		}

		prometheus.MustRegister(metrics.BoardCollectors()...)

		hub := gateway.NewHub(logging.Component("hub"))
		var signer boardsync.AssetSigner
		if assetStore != nil {
			signer = assetStore
		}
		engine := boardsync.New(store, hub, signer, engineCfg)

		serverCfg := gateway.DefaultConfig()
		serverCfg.Addr = addr
		serverCfg.AllowedOrigin = viper.GetString("allowed_origin")
		serverCfg.Assets = assetStore
		serverCfg.Logger = logging.Component("gateway")
		server := gateway.NewServer(engine, hub, serverCfg)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		if watch, _ := cmd.Flags().GetBool("watch-config"); watch {
			watchConfig(server)
		}

		fmt.Printf("Board server started on http://localhost%s\n", addr)
		fmt.Printf("Live channel: ws://localhost%s/ws\n", addr)
		if assetStore == nil {
			fmt.Println("Icon uploads disabled (no asset store configured)")
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		// Graceful shutdown
		fmt.Println("\nShutting down board server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Board server stopped")
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.IntP("port", "p", 3001, "Port to listen on")
	flags.String("allowed-origin", "", "Browser origin allowed to connect (default: any)")
	flags.String("assets", "", "Asset store URL (s3://bucket/prefix/ or file:///dir)")
	flags.String("public-url", "", "Externally visible base URL, used for local asset links")
	flags.String("asset-secret", "", "Secret signing local asset links (default: random per process)")
	flags.String("order-policy", string(boardsync.OrderPreserve), "Order handling for batch updates: preserve or dense")
	flags.String("error-scope", string(boardsync.ErrorsToAll), "Who receives error events: all or origin")
	flags.Duration("signed-url-ttl", boardsync.DefaultConfig().SignedURLTTL, "Lifetime of signed icon URLs")
	flags.Bool("watch-config", false, "Reload allowed_origin and log_level when the config file changes")

	for key, name := range map[string]string{
		"port":           "port",
		"allowed_origin": "allowed-origin",
		"assets":         "assets",
		"public_url":     "public-url",
		"asset_secret":   "asset-secret",
		"order_policy":   "order-policy",
		"error_scope":    "error-scope",
		"signed_url_ttl": "signed-url-ttl",
	} {
		bindFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(serveCmd)
}

func engineConfig() (*boardsync.Config, error) {
	cfg := boardsync.DefaultConfig()

	policy, err := boardsync.ParseOrderPolicy(viper.GetString("order_policy"))
	if err != nil {
		return nil, err
	}
	scope, err := boardsync.ParseErrorScope(viper.GetString("error_scope"))
	if err != nil {
		return nil, err
	}
	cfg.OrderPolicy = policy
	cfg.ErrorScope = scope
	if ttl := viper.GetDuration("signed_url_ttl"); ttl > 0 {
		cfg.SignedURLTTL = ttl
	}
	cfg.Logger = logging.Component("sync")
	return cfg, nil
}

// assetStoreURL returns --assets, or an s3:// URL assembled from the
// s3_bucket, s3_prefix, s3_region and s3_endpoint settings.
func assetStoreURL() string {
	if u := viper.GetString("assets"); u != "" {
		return u
	}
	bucket := viper.GetString("s3_bucket")
	if bucket == "" {
		return ""
	}
	query := url.Values{}
	if region := viper.GetString("s3_region"); region != "" {
		query.Set("region", region)
	}
	if endpoint := viper.GetString("s3_endpoint"); endpoint != "" {
		query.Set("endpoint", endpoint)
	}
	prefix := strings.Trim(viper.GetString("s3_prefix"), "/")
	if prefix != "" {
		prefix += "/"
	}
	return (&url.URL{Scheme: "s3", Host: bucket, Path: "/" + prefix, RawQuery: query.Encode()}).String()
}

// watchConfig applies allowed_origin and log_level changes without a restart.
// Other settings need one.
func watchConfig(server *gateway.Server) {
	if viper.ConfigFileUsed() == "" {
		log.Warn("--watch-config given but no config file is in use")
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		entry := log.WithFields(log.Fields{"file": e.Name, "op": e.Op.String()})
		if origin := viper.GetString("allowed_origin"); origin != server.AllowedOrigin() {
			server.SetAllowedOrigin(origin)
		}
		if err := logging.SetLevel(viper.GetString("log_level")); err != nil {
			entry.WithError(err).Warn("ignoring invalid log level")
			return
		}
		entry.Info("config reloaded")
	})
	viper.WatchConfig()
	log.WithField("file", viper.ConfigFileUsed()).Info("watching config")
}

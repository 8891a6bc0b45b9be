package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-errors/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/exchangeserver"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the wallet and verifier sides of the credential exchange",
	Run: func(command *cobra.Command, args []string) {
		conf, err := configure(command)
		if err != nil {
			die("", errors.WrapPrefix(err, "Failed to read configuration", 0))
		}
		serv, err := exchangeserver.New(conf)
		if err != nil {
			die("", errors.WrapPrefix(err, "Failed to configure server", 0))
		}

		stopped := make(chan struct{})
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

		go func() {
			if err := serv.Start(); err != nil {
				die("", errors.WrapPrefix(err, "Failed to start server", 0))
			}
			conf.Logger.Debug("Server stopped")
			stopped <- struct{}{}
		}()

		for {
			select {
			case <-interrupt:
				conf.Logger.Debug("Caught interrupt")
				serv.Stop() // causes serv.Start() above to return
			case <-stopped:
				conf.Logger.Info("Exiting")
				return
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(serverCmd)

	flags := serverCmd.Flags()
	flags.SortFlags = false

	flags.StringP("config", "c", "", "path to configuration file")
	flags.StringP("url", "u", "", "external URL at which this server is reachable")
	flags.StringP("listen-addr", "l", "", "address at which to listen (default 0.0.0.0)")
	flags.IntP("port", "p", 8080, "port at which to listen")
	flags.String("wallet-ui-url", "", "base URL of the wallet UI")
	flags.String("verifier-ui-url", "", "base URL of the verifier UI")
	flags.String("wallet-registry", "wallet-registry.json", "path to the issuer/verifier registry config file")
	flags.String("verifier-registry", "verifier-registry.json", "path to the holder wallet registry config file")
	flags.Duration("session-lifetime", server.DefaultSessionLifetime, "maximum lifetime of a pending session")
	flags.Duration("upstream-timeout", server.DefaultUpstreamTimeout, "timeout for outbound issuer calls")

	flags.String("store-type", "", "specifies how session state will be saved on the server (default \"memory\")")
	flags.String("redis-addr", "", "Redis address, to be specified as host:port")
	flags.String("redis-pw", "", "Redis server password")
	flags.Int("redis-db", 0, "database to be selected after connecting to the server (default 0)")

	flags.CountP("verbose", "v", "verbose (repeatable)")
	flags.BoolP("quiet", "q", false, "quiet")
	flags.Bool("log-json", false, "Log in JSON format")
}

func configure(cmd *cobra.Command) (*server.Configuration, error) {
	dashReplacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(dashReplacer)
	viper.SetEnvPrefix("WALLETD")
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	// Locate and read configuration file
	confpath := viper.GetString("config")
	if confpath != "" {
		dir, file := filepath.Dir(confpath), filepath.Base(confpath)
		viper.SetConfigName(strings.TrimSuffix(file, filepath.Ext(file)))
		viper.AddConfigPath(dir)
	} else {
		viper.SetConfigName("walletd")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/walletd")
	}
	confFileErr := viper.ReadInConfig()

	logger := server.NewLogger(viper.GetInt("verbose"), viper.GetBool("quiet"), viper.GetBool("log-json"))
	if !viper.GetBool("log-json") {
		logger.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	}
	logger.WithFields(logrus.Fields{
		"version": walletkit.Version,
	}).Info("walletd server running")

	if confFileErr != nil {
		if _, notfound := confFileErr.(viper.ConfigFileNotFoundError); notfound {
			logger.Info("No configuration file found")
		} else {
			return nil, errors.WrapPrefix(confFileErr, "Failed to read configuration file at "+viper.ConfigFileUsed(), 0)
		}
	} else {
		logger.Info("Config file: ", viper.ConfigFileUsed())
	}

	conf := &server.Configuration{
		URL:                  viper.GetString("url"),
		ListenAddress:        viper.GetString("listen-addr"),
		Port:                 viper.GetInt("port"),
		WalletUIURL:          viper.GetString("wallet-ui-url"),
		VerifierUIURL:        viper.GetString("verifier-ui-url"),
		WalletRegistryPath:   viper.GetString("wallet-registry"),
		VerifierRegistryPath: viper.GetString("verifier-registry"),
		SessionLifetime:      viper.GetDuration("session-lifetime"),
		UpstreamTimeout:      viper.GetDuration("upstream-timeout"),
		StoreType:            viper.GetString("store-type"),
		RedisSettings: server.RedisSettings{
			Address:  viper.GetString("redis-addr"),
			Password: viper.GetString("redis-pw"),
			DB:       viper.GetInt("redis-db"),
		},
		Logger:  logger,
		Verbose: viper.GetInt("verbose"),
		Quiet:   viper.GetBool("quiet"),
		LogJSON: viper.GetBool("log-json"),
	}
	return conf, nil
}

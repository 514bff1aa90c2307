package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/membership"
	"github.com/meridiandb/placement/common/topology"
	"github.com/meridiandb/placement/pkg/metrics"
	"github.com/meridiandb/placement/placement"
	"github.com/meridiandb/placement/utils/netutils"
)

var rootCmd = &cobra.Command{
	Use:   "placementd",
	Short: "A service for driving and following tablet placement",

	Run: func(cmd *cobra.Command, args []string) {
		startPlacementd()
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web metrics/debug port")
	configFlags.String("advertise-address", "", "the address advertised to other nodes; derived from the bind address when empty")
	configFlags.Int("advertise-port", 7000, "the port advertised to other nodes")
	configFlags.String("host-id", "", "this node's host id; generated when empty")
	configFlags.String("server-group", "", "the failure domain this node belongs to")
	configFlags.Bool("director", false, "run as the placement driver for the cluster")
	configFlags.Bool("tablets-enabled", true, "whether new tables may use tablet-based placement")
	configFlags.String("etcd-endpoints", "", "comma-separated etcd endpoints for snapshot distribution")
	configFlags.String("etcd-key-prefix", "/meridiandb", "the etcd key prefix to store snapshots under")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("pld")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr      string
	bindAddress      string
	webPort          int
	advertiseAddress string
	advertisePort    int
	hostID           string
	serverGroup      string
	director         bool
	tabletsEnabled   bool
	etcdEndpoints    string
	etcdKeyPrefix    string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:      viper.GetString("log-level"),
		bindAddress:      viper.GetString("bind-address"),
		webPort:          viper.GetInt("web-port"),
		advertiseAddress: viper.GetString("advertise-address"),
		advertisePort:    viper.GetInt("advertise-port"),
		hostID:           viper.GetString("host-id"),
		serverGroup:      viper.GetString("server-group"),
		director:         viper.GetBool("director"),
		tabletsEnabled:   viper.GetBool("tablets-enabled"),
		etcdEndpoints:    viper.GetString("etcd-endpoints"),
		etcdKeyPrefix:    viper.GetString("etcd-key-prefix"),
	}

	logger.Info("parsed placementd configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.String("advertiseAddress", config.advertiseAddress),
		zap.Int("advertisePort", config.advertisePort),
		zap.String("hostID", config.hostID),
		zap.String("serverGroup", config.serverGroup),
		zap.Bool("director", config.director),
		zap.Bool("tabletsEnabled", config.tabletsEnabled),
		zap.String("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdKeyPrefix", config.etcdKeyPrefix))

	return config
}

// selfHost builds this node's topology entry from the configuration.
func selfHost(config *config) (topology.Host, error) {
	hostID := cluster.HostID(config.hostID)
	if hostID == "" {
		hostID = cluster.NewHostID()
	}

	advertiseAddr := config.advertiseAddress
	if advertiseAddr == "" {
		derived, err := netutils.GetAdvertiseAddress(config.bindAddress)
		if err != nil {
			return topology.Host{}, errors.Wrap(err, "failed to derive an advertise address")
		}
		advertiseAddr = derived
	}

	return topology.Host{
		ID: hostID,
		Endpoint: cluster.Endpoint{
			AdvertiseAddr: advertiseAddr,
			AdvertisePort: config.advertisePort,
			ServerGroup:   config.serverGroup,
		},
	}, nil
}

// bootstrapSnapshot builds the version-1 snapshot a fresh director starts
// the cluster with: just this node.
func bootstrapSnapshot(config *config, self topology.Host) *topology.Snapshot {
	return topology.NewSnapshot(topology.SnapshotOptions{
		Version:  1,
		Features: topology.Features{Tablets: config.tabletsEnabled},
		Hosts:    []topology.Host{self},
	})
}

// runFollower installs every snapshot the provider delivers. The manager
// retires each replaced snapshot; its metadata is disposed of gently once
// the last reader releases it.
func runFollower(
	ctx context.Context,
	logger *zap.Logger,
	manager *topology.Manager,
	provider topology.Provider,
	placementMetrics *metrics.PlacementMetrics,
) {
	watchCh, err := provider.Watch(ctx)
	if err != nil {
		logger.Error("failed to watch the topology provider", zap.Error(err))
		os.Exit(1)
	}

	for snap := range watchCh {
		if err := manager.Publish(ctx, snap); err != nil {
			logger.Warn("interrupted while disposing of a replaced snapshot", zap.Error(err))
		}

		placementMetrics.SnapshotsPublished.Inc()
		placementMetrics.TopologyVersion.Set(float64(snap.Version()))
		placementMetrics.MetadataMemoryBytes.Set(float64(snap.Tablets().ExternalMemoryUsage()))
	}
}

func startPlacementd() {
	logLevel, logger := getLogger()

	logger.Info("starting placementd")

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := topology.NewManager(topology.ManagerOptions{
		Logger: logger.Named("topology"),
	})
	placementMetrics := metrics.GetPlacementMetrics()

	self, err := selfHost(config)
	if err != nil {
		logger.Error("failed to build this node's host entry", zap.Error(err))
		os.Exit(1)
	}

	var provider topology.Provider
	var registry *membership.Registry
	if config.etcdEndpoints != "" {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(config.etcdEndpoints, ","),
			DialTimeout: 10 * time.Second,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			logger.Error("failed to connect to etcd", zap.Error(err))
			os.Exit(1)
		}
		defer etcdClient.Close()

		etcdProvider, err := topology.NewEtcdProvider(topology.EtcdProviderOptions{
			Logger:     logger.Named("provider"),
			EtcdClient: etcdClient,
			KeyPrefix:  config.etcdKeyPrefix,
		})
		if err != nil {
			logger.Error("failed to initialize the etcd provider", zap.Error(err))
			os.Exit(1)
		}

		provider = etcdProvider

		registry, err = membership.NewRegistry(membership.RegistryOptions{
			Logger:     logger.Named("membership"),
			EtcdClient: etcdClient,
			KeyPrefix:  config.etcdKeyPrefix,
		})
		if err != nil {
			logger.Error("failed to initialize the host registry", zap.Error(err))
			os.Exit(1)
		}
	}

	var registration *membership.Registration
	if registry != nil {
		registration, err = registry.Join(ctx, self, membership.JoinOptions{})
		if err != nil {
			logger.Error("failed to join the host registry", zap.Error(err))
			os.Exit(1)
		}
	}

	var director *placement.Director
	if config.director {
		// resume from the last distributed snapshot when there is one
		var initial *topology.Snapshot
		if provider != nil {
			snap, err := provider.Get(ctx)
			if err == nil {
				initial = snap
			} else if !errors.Is(err, topology.ErrNoPublishedSnapshot) {
				logger.Error("failed to fetch the published snapshot", zap.Error(err))
				os.Exit(1)
			}
		}
		if initial == nil {
			initial = bootstrapSnapshot(config, self)
		}

		if err := manager.Publish(ctx, initial); err != nil {
			logger.Warn("interrupted while disposing of a replaced snapshot", zap.Error(err))
		}
		placementMetrics.TopologyVersion.Set(float64(initial.Version()))

		if provider != nil {
			if err := provider.Publish(ctx, initial); err != nil {
				logger.Error("failed to distribute the bootstrap snapshot", zap.Error(err))
				os.Exit(1)
			}
		}

		director = placement.NewDirector(placement.DirectorOptions{
			Logger:   logger.Named("director"),
			Manager:  manager,
			Provider: provider,
			Metrics:  placementMetrics,
		})

		// follow membership so host joins and leaves flow into the
		// published topology
		if registry != nil {
			hostsCh, err := registry.WatchHosts(ctx)
			if err != nil {
				logger.Error("failed to watch the host registry", zap.Error(err))
				os.Exit(1)
			}

			go func() {
				for hosts := range hostsCh {
					if err := director.SetHosts(ctx, hosts); err != nil {
						logger.Warn("failed to publish a host set change", zap.Error(err))
					}
				}
			}()
		}

		logger.Info("running as the placement director",
			zap.Uint64("version", initial.Version()))
	} else {
		if provider == nil {
			logger.Error("follower mode requires etcd-endpoints")
			os.Exit(1)
		}

		go runFollower(ctx, logger.Named("follower"), manager, provider, placementMetrics)

		logger.Info("running as a placement follower")
	}

	debugServer := placement.NewDebugServer(placement.DebugServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: net.JoinHostPort(config.bindAddress, strconv.Itoa(config.webPort)),
		Topology:      manager.Handle(),
		Director:      director,
	})
	go func() {
		if err := debugServer.ListenAndServe(); err != nil {
			logger.Error("failed to listen and serve the debug api", zap.Error(err))
		}
	}()

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file", zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort ||
			newConfig.advertiseAddress != config.advertiseAddress ||
			newConfig.advertisePort != config.advertisePort {
			logger.Warn("config changes for bindAddress, webPort, advertiseAddress, or advertisePort require a restart")
		}

		if newConfig.etcdEndpoints != config.etcdEndpoints ||
			newConfig.etcdKeyPrefix != config.etcdKeyPrefix {
			logger.Warn("config changes for etcdEndpoints or etcdKeyPrefix require a restart")
		}

		if newConfig.director != config.director {
			logger.Warn("config changes for director require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel, err := zapcore.ParseLevel(newConfig.logLevelStr)
			if err != nil {
				logger.Warn("invalid log level specified, using INFO instead")
				newParsedLogLevel = zapcore.InfoLevel
			}

			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	sigCh := make(chan os.Signal, 10)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("received shutdown signal, stopping")

	if registration != nil {
		if err := registration.Leave(context.Background()); err != nil {
			logger.Warn("failed to leave the host registry", zap.Error(err))
		}
	}

	cancel()
	if err := debugServer.Shutdown(); err != nil {
		logger.Warn("failed to shut down the debug api", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

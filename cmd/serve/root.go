package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/ValentinKolb/dHA/cmd/util"
	"github.com/ValentinKolb/dHA/ha"
	"github.com/ValentinKolb/dHA/lib/membership"
	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("ha")

	serveCmdConfig = &common.ServerConfig{}
	slaveConfig    = ha.SlaveConfig{}
	watchInterval  time.Duration

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dHA machine",
		Long:    `Start a dHA machine with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DHA_<flag> (e.g. DHA_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "machine-id"
	ServeCmd.PersistentFlags().Int32(key, defaults.MachineID, cmdUtil.WrapString("MachineID is the unique id of this machine in the cluster, it is also the raft replica id of the membership shard"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the HA endpoint will listen (e.g. 0.0.0.0:6361, /tmp/dha.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Timeout in seconds for requests to the master and to the membership shard"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxFrameSize, cmdUtil.WrapString("The largest frame accepted in either direction in bytes"))

	key = "max-workers"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxWorkers, cmdUtil.WrapString("The number of requests the master executes concurrently"))

	key = "id-batch-size"
	ServeCmd.PersistentFlags().Int(key, defaults.IdBatchSize, cmdUtil.WrapString("The number of ids granted per allocation"))

	key = "default-resource"
	ServeCmd.PersistentFlags().String(key, defaults.DefaultResource, cmdUtil.WrapString("The resource used to answer master id lookups"))

	key = "pull-interval"
	ServeCmd.PersistentFlags().Int64(key, defaults.PullIntervalMillis, cmdUtil.WrapString("(Slave) Interval in milliseconds in which missing transactions are pulled from the master, 0 disables pulling"))

	key = "max-lock-retries"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("(Slave) How often a lock is retried after the master answered NOT_LOCKED, 0 retries forever"))

	key = "watch-interval"
	ServeCmd.PersistentFlags().Int64(key, 1000, cmdUtil.WrapString("Interval in milliseconds in which the membership shard is asked for the current master"))

	key = "membership-shard-id"
	ServeCmd.PersistentFlags().Uint64(key, defaults.MembershipShardID, cmdUtil.WrapString("(Cluster Mode) ShardID of the raft shard used for master election"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, defaults.RTTMillisecond, cmdUtil.WrapString("(Cluster Mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, defaults.SnapshotEntries, cmdUtil.WrapString("(Cluster Mode) SnapshotEntries defines how often the membership registry is snapshotted, in applied raft log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, defaults.CompactionOverhead, cmdUtil.WrapString("(Cluster Mode) CompactionOverhead defines the number of raft entries kept after a snapshot"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) ClusterMembers is a comma-separated list of raft addresses in the format 'machineID=address' (e.g. '1=localhost:63001,2=localhost:63002'). Without members the machine is the master of a single machine cluster"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, defaults.DataDir, cmdUtil.WrapString("DataDir is the directory used for the transaction logs and the raft data"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which /metrics is served in the prometheus format (e.g. 0.0.0.0:9361), empty disables metrics"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	*serveCmdConfig = common.DefaultServerConfig()
	serveCmdConfig.MachineID = viper.GetInt32("machine-id")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxFrameSize = viper.GetInt("max-frame-size")
	serveCmdConfig.MaxWorkers = viper.GetInt("max-workers")
	serveCmdConfig.IdBatchSize = viper.GetInt("id-batch-size")
	serveCmdConfig.DefaultResource = viper.GetString("default-resource")
	serveCmdConfig.PullIntervalMillis = viper.GetInt64("pull-interval")
	serveCmdConfig.MembershipShardID = viper.GetUint64("membership-shard-id")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	slaveConfig.MaxLockRetries = viper.GetInt("max-lock-retries")
	watchInterval = time.Duration(viper.GetInt64("watch-interval")) * time.Millisecond

	if serveCmdConfig.MachineID <= 0 {
		return fmt.Errorf("machine id must be positive, got %d", serveCmdConfig.MachineID)
	}
	if watchInterval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}

	members, err := parseClusterMembers(viper.GetString("cluster-members"))
	if err != nil {
		return err
	}
	serveCmdConfig.ClusterMembers = members

	// test if the machine id is in the cluster members (only for cluster mode)
	if _, ok := serveCmdConfig.ClusterMembers[uint64(serveCmdConfig.MachineID)]; !ok && serveCmdConfig.IsCluster() {
		return fmt.Errorf("no address found for machine id %d in cluster members", serveCmdConfig.MachineID)
	}

	return nil
}

// parseClusterMembers parses 'id=address,id=address', an empty string yields no members
func parseClusterMembers(s string) (map[uint64]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 31)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid machine id %s: must be a positive number", parts[0])
		}
		members[id] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// run starts the machine and blocks until the HA endpoint is closed
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(*serveCmdConfig); err != nil {
		return err
	}
	log.Infof("Starting dHA with the following configuration:\n%s", serveCmdConfig)

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}
	newClientTransport, err := cmdUtil.GetClientTransportFactory()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// STORAGE

	store, err := txlog.OpenBadgerStore(serveCmdConfig.DataDir + "/txlog")
	if err != nil {
		return fmt.Errorf("failed to open transaction logs: %w", err)
	}
	defer store.Close()
	logs := txlog.NewBadgerRegistry(store)

	// MASTER

	master := server.NewMaster(*serveCmdConfig, logs, server.NewLogStoreSource(logs))
	serv := server.NewRPCServer(*serveCmdConfig, t, master)

	// MEMBERSHIP

	self := membership.Machine{ID: serveCmdConfig.MachineID, Address: serveCmdConfig.Endpoint}
	members, closeMembers, err := createMembership(self)
	if err != nil {
		return err
	}
	defer closeMembers()
	go register(ctx, members, self)

	// SLAVE

	clientConfig := common.DefaultClientConfig("")
	clientConfig.TimeoutSecond = int(serveCmdConfig.TimeoutSecond)
	clientConfig.MaxFrameSize = serveCmdConfig.MaxFrameSize

	broker := ha.NewBroker(self, members, master, clientConfig, newClientTransport)
	defer broker.Close()
	applier, err := ha.NewApplier(self.ID, logs, serveCmdConfig.DefaultResource)
	if err != nil {
		return err
	}
	slave := ha.NewSlave(slaveConfig, broker, applier)

	broker.OnMasterChange(func(m membership.Machine) {
		if m.ID == self.ID {
			log.Infof("This machine is the master now")
			return
		}
		log.Infof("Following master %s", m)
		go func() {
			if err := ha.CheckBranchedData(ctx, slave, serveCmdConfig.DefaultResource); err != nil {
				log.Errorf("Local store diverged from %s: %v", m, err)
			}
		}()
	})
	go broker.Watch(ctx, watchInterval)

	if serveCmdConfig.PullIntervalMillis > 0 {
		puller := ha.NewUpdatePuller(slave, time.Duration(serveCmdConfig.PullIntervalMillis)*time.Millisecond)
		go puller.Run(ctx)
	}

	// METRICS

	if serveCmdConfig.MetricsEndpoint != "" {
		go serveMetrics(serveCmdConfig.MetricsEndpoint, master)
	}

	go func() {
		<-ctx.Done()
		log.Infof("Shutting down")
		_ = serv.Close()
	}()

	return serv.Serve()
}

// createMembership starts the raft membership shard for clusters, a single
// machine is its own master
func createMembership(self membership.Machine) (membership.Membership, func(), error) {
	if !serveCmdConfig.IsCluster() {
		log.Infof("No cluster members configured, %s is the master", self)
		return membership.NewStaticMembership(self), func() {}, nil
	}

	nodeHost, err := dragonboat.NewNodeHost(serveCmdConfig.ToNodeHostConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node host: %w", err)
	}

	initialMembers := make(map[uint64]dragonboat.Target, len(serveCmdConfig.ClusterMembers))
	for id, addr := range serveCmdConfig.ClusterMembers {
		initialMembers[id] = dragonboat.Target(addr)
	}
	if err := nodeHost.StartConcurrentReplica(
		initialMembers,
		false,
		membership.CreateRegistryStateMachineFactory(),
		serveCmdConfig.ToDragonboatConfig(),
	); err != nil {
		nodeHost.Close()
		return nil, nil, fmt.Errorf("failed to start membership shard %d: %w", serveCmdConfig.MembershipShardID, err)
	}

	timeout := time.Duration(serveCmdConfig.TimeoutSecond) * time.Second
	return membership.NewRaftMembership(nodeHost, serveCmdConfig.MembershipShardID, timeout), nodeHost.Close, nil
}

// register publishes the HA endpoint, the membership shard may not have a
// leader yet so it is retried until it succeeds
func register(ctx context.Context, members membership.Membership, self membership.Machine) {
	for {
		err := members.Register(ctx, self)
		if err == nil {
			log.Infof("Registered %s", self)
			return
		}
		log.Warningf("Failed to register %s: %v", self, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// serveMetrics exposes the process metrics and the metrics of the master
func serveMetrics(endpoint string, master *server.MasterImpl) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
		master.WritePrometheus(w)
	})
	log.Infof("Serving metrics on %s/metrics", endpoint)
	if err := http.ListenAndServe(endpoint, mux); err != nil {
		log.Errorf("Metrics endpoint stopped: %v", err)
	}
}

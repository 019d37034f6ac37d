package master

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dHA/cmd/util"
	"github.com/ValentinKolb/dHA/ha"
	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/client"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcMaster *client.MasterClient

	// MasterCommands groups the commands that talk to a running master
	MasterCommands = &cobra.Command{
		Use:                "master",
		Short:              "Invoke operations on a running master",
		PersistentPreRunE:  setupMasterClient,
		PersistentPostRunE: closeMasterClient,
	}

	idsCmd = &cobra.Command{
		Use:   "ids [type]",
		Short: "Allocate a batch of ids",
		Long:  "Allocate a batch of ids of the given type (node, relationship, property, string-block, array-block, relationship-type).",
		Args:  cobra.ExactArgs(1),
		RunE:  runIds,
	}

	masterIdCmd = &cobra.Command{
		Use:   "master-id [txID]",
		Short: "Print the machine id that committed a transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  runMasterId,
	}

	copyStoreCmd = &cobra.Command{
		Use:   "copy-store [dir]",
		Short: "Copy the store of the master into a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runCopyStore,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	MasterCommands.AddCommand(idsCmd)
	MasterCommands.AddCommand(masterIdCmd)
	MasterCommands.AddCommand(copyStoreCmd)

	util.SetupRPCClientFlags(MasterCommands)

	MasterCommands.PersistentFlags().Int32("machine-id", 0, util.WrapString("The machine id sent with context bound requests (0 is never a cluster member)"))
}

func setupMasterClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	newTransport, err := util.GetClientTransportFactory()
	if err != nil {
		return err
	}

	rpcMaster, err = client.NewMasterClient(util.GetClientConfig(), newTransport())
	return err
}

func closeMasterClient(_ *cobra.Command, _ []string) error {
	if rpcMaster == nil {
		return nil
	}
	return rpcMaster.Close()
}

// parseIdType accepts the names printed by idgen.IdType.String in any case,
// with or without dashes
func parseIdType(s string) (idgen.IdType, error) {
	normalized := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	for _, t := range idgen.AllIdTypes {
		if strings.ToLower(t.String()) == normalized {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown id type %q", s)
}

func runIds(_ *cobra.Command, args []string) error {
	idType, err := parseIdType(args[0])
	if err != nil {
		return err
	}

	resp, err := rpcMaster.AllocateIds(idType)
	if err != nil {
		return fmt.Errorf("failed to allocate ids: %v", err)
	}
	alloc, err := resp.Get()
	if err != nil {
		return fmt.Errorf("failed to allocate ids: %v", err)
	}

	fmt.Printf("type=%s, defrag=%v, range=[%d,%d), highest=%d, defragCount=%d\n",
		idType,
		alloc.DefragIDs,
		alloc.RangeStart,
		alloc.RangeStart+int64(alloc.RangeLength),
		alloc.HighestIDInUse,
		alloc.DefragCount,
	)
	return nil
}

func runMasterId(_ *cobra.Command, args []string) error {
	txID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tx id %s: %v", args[0], err)
	}

	resp, err := rpcMaster.GetMasterIdForCommittedTx(txID)
	if err != nil {
		return fmt.Errorf("failed to get master id: %v", err)
	}
	id, err := resp.Get()
	if err != nil {
		return fmt.Errorf("failed to get master id: %v", err)
	}

	fmt.Printf("tx=%d, master=%d\n", txID, id)
	return nil
}

func runCopyStore(_ *cobra.Command, args []string) error {
	session := rpcMaster.Session()
	defer session.Close()

	sc := common.NewSlaveContext(viper.GetInt32("machine-id"), 1)
	resp, err := session.CopyStore(sc, ha.DirStoreWriter{Dir: args[0]})
	if err != nil {
		return fmt.Errorf("failed to copy store: %v", err)
	}
	if resp.Failed() {
		return fmt.Errorf("failed to copy store: %v", common.ErrMasterCommunicationFailed)
	}

	fmt.Printf("copied store of %s to %s\n", rpcMaster.Endpoint(), args[0])
	return nil
}

package ha

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/pkg/errors"
)

// DirStoreWriter writes the files of a store copy below Dir
type DirStoreWriter struct {
	Dir string
}

func (w DirStoreWriter) WriteFile(path string, data []byte) error {
	target := filepath.Join(w.Dir, filepath.FromSlash(path))
	if !strings.HasPrefix(target, filepath.Clean(w.Dir)+string(filepath.Separator)) {
		return errors.Errorf("store file %q is outside of %s", path, w.Dir)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}

// LogStoreWriter restores the transaction logs of a store copy into a registry
type LogStoreWriter struct {
	Logs *txlog.Registry
}

func (w LogStoreWriter) WriteFile(path string, data []byte) error {
	name, ok := strings.CutPrefix(path, server.LogDir)
	if !ok || name == "" {
		Logger.Debugf("Skipping store file %s", path)
		return nil
	}
	log, err := w.Logs.GetOrOpen(name)
	if err != nil {
		return err
	}
	applied, err := txlog.Restore(log, bytes.NewReader(data))
	if err != nil {
		return err
	}
	Logger.Infof("Restored %d transactions of %s", applied, name)
	return nil
}

// CopyStore copies the store of the master into w
func CopyStore(ctx context.Context, slave *Slave, w common.StoreWriter) error {
	handle, _, err := slave.broker.Master(ctx)
	if err != nil {
		return err
	}
	session := handle.Session()
	defer session.Close()

	sc, err := slave.applier.Context(slave.events.Add(1))
	if err != nil {
		return err
	}
	resp, err := session.CopyStore(sc, w)
	if err == nil && resp.Failed() {
		err = common.ErrMasterCommunicationFailed
	}
	if err != nil {
		slave.fail(err)
		return err
	}
	return nil
}

// CheckBranchedData compares the committer of the last local transaction of
// resource with the answer of the master. The master answers for its default
// resource, so resource has to be the same. A different committer means that
// the local store diverged from the master and has to be copied again.
func CheckBranchedData(ctx context.Context, slave *Slave, resource string) error {
	log, ok := slave.applier.logs.Get(resource)
	if !ok {
		return nil
	}
	last, err := log.LastCommittedTxID()
	if err != nil || last == 0 {
		return err
	}
	localMaster, err := log.MasterIDFor(last)
	if err != nil {
		return err
	}

	handle, _, err := slave.broker.Master(ctx)
	if err != nil {
		return err
	}
	session := handle.Session()
	defer session.Close()

	resp, err := session.GetMasterIdForCommittedTx(last)
	if err != nil {
		slave.fail(err)
		return err
	}
	masterMaster, err := resp.Get()
	if err != nil {
		return errors.Wrapf(common.ErrBranchedData, "master does not know tx %d", last)
	}
	if masterMaster != localMaster {
		return errors.Wrapf(common.ErrBranchedData, "tx %d was committed by machine %d, master says %d", last, localMaster, masterMaster)
	}
	return nil
}

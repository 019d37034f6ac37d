package server

import (
	"bytes"

	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// LogDir is the directory of the transaction logs in a store copy
const LogDir = "txlogs/"

// logStoreSource exposes the transaction logs of a registry as store files
type logStoreSource struct {
	logs *txlog.Registry
}

// NewLogStoreSource creates a store source with one file per transaction
// log, named LogDir + resource. The content is written by txlog.Dump.
func NewLogStoreSource(logs *txlog.Registry) common.StoreSource {
	return &logStoreSource{logs: logs}
}

func (s *logStoreSource) StoreFiles() ([]common.StoreFile, error) {
	names := s.logs.Names()
	files := make([]common.StoreFile, 0, len(names))
	for _, name := range names {
		log, ok := s.logs.Get(name)
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := txlog.Dump(log, &buf); err != nil {
			return nil, err
		}
		files = append(files, common.StoreFile{Path: LogDir + name, Data: buf.Bytes()})
	}
	return files, nil
}

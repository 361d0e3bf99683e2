package coordinator

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// FileStore is the concrete Store: two per-port files holding the peer
// list and the community table. Spec §6 leaves the line format up to the
// implementation provided round-trip holds; CBOR gives that round-trip
// for free and is the one genuine domain dependency carried from the
// teacher's go.mod (see SPEC_FULL.md §4.6).
type FileStore struct {
	peersPath       string
	communitiesPath string
}

// NewFileStore names the two files after port, matching spec §4.6's
// "SN_SNM_<port>" / "SN_COMM_<port>" convention.
func NewFileStore(dir string, port int) *FileStore {
	return &FileStore{
		peersPath:       fmt.Sprintf("%s/SN_SNM_%d", dir, port),
		communitiesPath: fmt.Sprintf("%s/SN_COMM_%d", dir, port),
	}
}

func (s *FileStore) LoadPeers() ([]netip.AddrPort, error) {
	var peers []netip.AddrPort
	if err := loadCBOR(s.peersPath, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (s *FileStore) SavePeers(peers []netip.AddrPort) error {
	return saveCBOR(s.peersPath, peers)
}

func (s *FileStore) LoadCommunities() ([]Community, error) {
	var communities []Community
	if err := loadCBOR(s.communitiesPath, &communities); err != nil {
		return nil, err
	}
	return communities, nil
}

func (s *FileStore) SaveCommunities(communities []Community) error {
	return saveCBOR(s.communitiesPath, communities)
}

// loadCBOR tolerates a missing file (first run, nothing persisted yet)
// but not a corrupt one.
func loadCBOR(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, out)
}

func saveCBOR(path string, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

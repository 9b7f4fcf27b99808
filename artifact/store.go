package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"github.com/google/uuid"
)

const (
	currentFile   = "CURRENT"
	versionsDir   = "versions"
	stagingPrefix = ".staging-"

	// DefaultKeepVersions is how many published bundles Save retains.
	DefaultKeepVersions = 5
)

// Store manages versioned bundles under a root directory:
//
//	<root>/CURRENT              id of the active bundle
//	<root>/versions/<id>/       one directory per published bundle
//	<root>/versions/.staging-*  bundles being written
type Store struct {
	root   string
	keep   int
	logger log.Logger

	// beforePublish runs after the staging directory is complete and before
	// it is renamed into place.
	beforePublish func(staging string) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeepVersions sets how many published bundles are kept. Values below 1
// keep every bundle.
func WithKeepVersions(n int) StoreOption {
	return func(s *Store) {
		s.keep = n
	}
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger log.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore returns a store rooted at root. The directory is created on the
// first Save.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:   root,
		keep:   DefaultKeepVersions,
		logger: log.GetLoggerWithName("artifact.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Save publishes b as a new bundle and makes it current. It returns the
// bundle id. Once the bundle is current, the id, schema version, column list
// and any empty defaults are filled into b.Metadata. On any failure b is left
// unchanged and the previously current bundle stays loadable.
func (s *Store) Save(b *Bundle) (string, error) {
	if err := b.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid bundle")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate bundle id")
	}
	bundleID := id.String()

	// 公開が成功するまで呼び出し元のメタデータは変更しない
	staged := *b
	md := &staged.Metadata
	md.SchemaVersion = SchemaVersion
	md.BundleID = bundleID
	md.InputFeatures = b.Codec.Columns()
	if md.Version == "" {
		md.Version = DefaultVersion
	}
	if md.Algorithm == "" {
		md.Algorithm = DefaultAlgorithm
	}
	if md.TrainedDate.IsZero() {
		md.TrainedDate = time.Now().UTC()
	}
	if md.FurnishingStatusMapping == nil && b.Codec.Furnishing() != nil {
		md.FurnishingStatusMapping = b.Codec.Furnishing().Mapping()
	}

	versions := filepath.Join(s.root, versionsDir)
	if err := os.MkdirAll(versions, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", versions)
	}

	staging := filepath.Join(versions, stagingPrefix+bundleID)
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", staging)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(staging)
		}
	}()

	if err := writeBundle(staging, &staged); err != nil {
		return "", err
	}
	if err := syncDir(staging); err != nil {
		return "", err
	}
	if s.beforePublish != nil {
		if err := s.beforePublish(staging); err != nil {
			return "", err
		}
	}

	final := filepath.Join(versions, bundleID)
	if err := os.Rename(staging, final); err != nil {
		return "", errors.Wrapf(err, "publish %s", final)
	}
	published = true
	if err := syncDir(versions); err != nil {
		return "", err
	}
	if err := s.setCurrent(bundleID); err != nil {
		// 公開済みだがCURRENTは旧バンドルのまま
		return "", err
	}
	b.Metadata = staged.Metadata
	b.Dir = final

	s.logger.Info("Bundle published",
		log.OperationKey, log.OperationPersist,
		log.BundleIDKey, bundleID,
		log.ArtifactPathKey, final,
	)

	if err := s.prune(bundleID); err != nil {
		s.logger.Warn("Pruning old bundles failed", log.ErrAttrKey, err)
	}
	return bundleID, nil
}

// setCurrent atomically replaces the CURRENT pointer.
func (s *Store) setCurrent(id string) error {
	tmp := filepath.Join(s.root, currentFile+".tmp-"+id)
	if err := writeFileSync(tmp, []byte(id+"\n")); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.root, currentFile)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "switch CURRENT")
	}
	return syncDir(s.root)
}

// Current returns the id of the active bundle.
func (s *Store) Current() (string, error) {
	path := filepath.Join(s.root, currentFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewArtifactMissingError("CURRENT", path)
		}
		return "", errors.Wrapf(err, "read %s", path)
	}
	id := strings.TrimSpace(string(data))
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", errors.NewArtifactCorruptError("CURRENT", path, "invalid bundle id "+id)
	}
	return id, nil
}

// Load loads the active bundle.
func (s *Store) Load() (*Bundle, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, versionsDir, id)
	b, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Bundle loaded",
		log.OperationKey, log.OperationLoad,
		log.BundleIDKey, id,
		log.ArtifactPathKey, dir,
	)
	return b, nil
}

// List returns the ids of all published bundles, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, versionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list versions")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	// UUIDv7 の文字列順は生成時刻順
	sort.Strings(ids)
	return ids, nil
}

// prune removes the oldest bundles beyond the retention limit. The current
// bundle is never removed.
func (s *Store) prune(current string) error {
	if s.keep < 1 {
		return nil
	}
	ids, err := s.List()
	if err != nil {
		return err
	}
	excess := len(ids) - s.keep
	for _, id := range ids {
		if excess <= 0 {
			break
		}
		if id == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, versionsDir, id)); err != nil {
			return errors.Wrapf(err, "remove bundle %s", id)
		}
		excess--
	}
	return nil
}

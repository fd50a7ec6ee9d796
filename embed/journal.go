package embed

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

const journalKeyPrefix = "backup"

// BackupRecord is the durable copy of a module file taken before it is instrumented. It is
// removed once the original content is back on disk.
type BackupRecord struct {
	RunID     string    `msgpack:"id"`
	Path      string    `msgpack:"p"`
	Namespace string    `msgpack:"ns"`
	Mode      uint32    `msgpack:"m"`
	Snapshot  []byte    `msgpack:"d"` // zstd compressed original bytes
	Size      int       `msgpack:"s"`
	Time      time.Time `msgpack:"t"`
}

// BackupPath returns the sibling backup file written next to the module.
func (r *BackupRecord) BackupPath() string {
	return r.Path + BackupSuffix
}

// Original returns the decompressed file content.
func (r *BackupRecord) Original() ([]byte, error) {
	data, err := ZstdDecompress(make([]byte, 0, r.Size), r.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("journal snapshot for %s: %w", r.Path, err)
	} else if len(data) != r.Size {
		return nil, fmt.Errorf("journal snapshot for %s: size %d, expected %d", r.Path, len(data), r.Size)
	}
	return data, nil
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// Journal keeps BackupRecords in a Storage, one per module file.
type Journal struct {
	store Storage
}

// NewJournal stores records under a dedicated key prefix of store.
func NewJournal(store Storage) *Journal {
	return &Journal{store: KeyPrefixStorage(store, journalKeyPrefix)}
}

func journalKey(path string) string {
	sum := sha1.Sum([]byte(path))
	return base91.StdEncoding.EncodeToString(sum[:])
}

// Record stores the snapshot of original for the absolute file path.
func (j *Journal) Record(runID, namespace, path string, mode fs.FileMode, original []byte) (*BackupRecord, error) {
	rec := &BackupRecord{
		RunID:     runID,
		Path:      path,
		Namespace: namespace,
		Mode:      uint32(mode.Perm()),
		Snapshot:  ZstdCompress(nil, original),
		Size:      len(original),
		Time:      time.Now().UTC(),
	}
	blob, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, err
	} else if err := j.store.Save(journalKey(path), blob); err != nil {
		return nil, fmt.Errorf("journal record for %s: %w", path, err)
	}
	return rec, nil
}

// Pending returns the record for path if a previous run left one behind.
func (j *Journal) Pending(path string) (*BackupRecord, bool, error) {
	blob, ok, err := j.store.Load(journalKey(path))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec BackupRecord
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return nil, false, fmt.Errorf("decode journal record for %s: %w", path, err)
	}
	return &rec, true, nil
}

// Remove deletes the record for path.
func (j *Journal) Remove(path string) error {
	return j.store.Delete(journalKey(path))
}

// Records returns every record in the journal, ordered by time.
func (j *Journal) Records() ([]*BackupRecord, error) {
	keys, err := j.store.ListKeysPrefix("")
	if err != nil {
		return nil, err
	}
	records := make([]*BackupRecord, 0, len(keys))
	for _, key := range keys {
		blob, ok, err := j.store.Load(key)
		if err != nil {
			return nil, err
		} else if !ok {
			continue // removed concurrently
		}
		var rec BackupRecord
		if err := msgpack.Unmarshal(blob, &rec); err != nil {
			logger.Warnf("Skipping unreadable journal record %q: %v", key, err)
			continue
		}
		records = append(records, &rec)
	}
	slices.SortFunc(records, func(a, b *BackupRecord) int {
		return a.Time.Compare(b.Time)
	})
	return records, nil
}

// Recovery is the outcome of replaying one journal record.
type Recovery struct {
	Record *BackupRecord
	// Changed is set when the file on disk differed from the original (or will, for a dry run).
	Changed bool
	Err     error
}

// Recover restores every recorded file to its original content, removes the stale backup files,
// and drops the records. With dryRun only the outcome is computed. Failures are reported per
// record, the returned error only covers reading the journal.
func (j *Journal) Recover(ctx context.Context, dryRun bool) ([]Recovery, error) {
	records, err := j.Records()
	if err != nil {
		return nil, err
	}

	results := make([]Recovery, len(records))
	var mu sync.Mutex // serializes journal updates
	group := ErrGroupLimitCPU()
	for i, rec := range records {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Recovery{Record: rec, Err: err}
				return nil
			}
			changed, err := recoverRecord(rec, dryRun)
			if err == nil && !dryRun {
				mu.Lock()
				err = j.Remove(rec.Path)
				mu.Unlock()
			}
			results[i] = Recovery{Record: rec, Changed: changed, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}

func recoverRecord(rec *BackupRecord, dryRun bool) (bool, error) {
	original, err := rec.Original()
	if err != nil {
		return false, err
	}
	current, err := readFileIfExists(rec.Path)
	if err != nil {
		return false, err
	}
	changed := current == nil || !bytes.Equal(current, original)
	if dryRun {
		return changed, nil
	} else if changed {
		if err := restoreOriginal(rec.Path, rec.BackupPath(), original, fs.FileMode(rec.Mode)); err != nil {
			return true, err
		}
		logger.Infof("Restored %s from journal (run %s)", filepath.Base(rec.Path), rec.RunID)
	}
	if err := removeIfExists(rec.BackupPath()); err != nil {
		return changed, fmt.Errorf("remove stale backup: %w", err)
	}
	return changed, nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/whrgg/cloud-drive-project/internal/database"
	"github.com/whrgg/cloud-drive-project/internal/encryption"
)

const (
	catalogPrefix = "catalog/"
	catalogSuffix = ".db.zst.age"
)

// BackupCatalog snapshots the catalog, compresses and encrypts it and stores
// it in the blob store. It returns the snapshot's key.
func (a *DriveApp) BackupCatalog(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "drive-catalog-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "catalog.db")
	if err := a.db.BackupTo(ctx, snapshot); err != nil {
		return "", err
	}
	sealedPath := filepath.Join(dir, "catalog"+catalogSuffix)
	if err := sealFile(a.encryptor, snapshot, sealedPath); err != nil {
		return "", err
	}

	f, err := os.Open(sealedPath)
	if err != nil {
		return "", fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat sealed snapshot: %w", err)
	}

	key := catalogPrefix + a.clock.Now().UTC().Format("20060102T150405Z") + catalogSuffix
	if err := a.blobs.Put(ctx, key, f, info.Size(), "application/octet-stream"); err != nil {
		return "", fmt.Errorf("storing snapshot: %w", err)
	}
	a.logger.Info("catalog backed up", "key", key, "size", info.Size())
	return key, nil
}

// ListCatalogSnapshots returns the stored snapshot keys, oldest first.
func (a *DriveApp) ListCatalogSnapshots(ctx context.Context) ([]string, error) {
	keys, err := a.blobs.List(ctx, catalogPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, catalogSuffix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RestoreCatalog replaces the sqlite catalog with the snapshot at key, or the
// newest snapshot when key is empty. The snapshot must carry a schema this
// binary understands. It returns the restored key.
func (a *DriveApp) RestoreCatalog(ctx context.Context, key, passphrase string) (string, error) {
	if a.cfg.Database.Type != "sqlite" {
		return "", fmt.Errorf("catalog restore needs a sqlite database, have %q", a.cfg.Database.Type)
	}
	if key == "" {
		keys, err := a.ListCatalogSnapshots(ctx)
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			return "", fmt.Errorf("no catalog snapshots stored")
		}
		key = keys[len(keys)-1]
	}

	opener, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return "", err
	}
	rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("fetching snapshot %s: %w", key, err)
	}
	defer rc.Close()

	target := filepath.Join(a.cfg.Database.DataDir, database.CatalogFile)
	tmp, err := os.CreateTemp(a.cfg.Database.DataDir, ".restore-*.db")
	if err != nil {
		return "", fmt.Errorf("creating restore file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = openSnapshot(opener, rc, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if err := checkCatalog(tmpPath); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", key, err)
	}

	if err := a.db.Close(); err != nil {
		return "", fmt.Errorf("closing database: %w", err)
	}
	a.db = nil
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("replacing catalog: %w", err)
	}
	db, err := database.NewSQLiteDatabase(target)
	if err != nil {
		return "", err
	}
	a.db = db
	a.wire()
	a.logger.Info("catalog restored", "key", key)
	return key, nil
}

// checkCatalog opens a candidate catalog and verifies its schema version.
func checkCatalog(path string) error {
	db, err := database.NewSQLiteDatabase(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.CheckMigrations()
}

func sealFile(enc encryption.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	err = sealSnapshot(enc, in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// sealSnapshot writes src to dst compressed with zstd, then encrypted.
func sealSnapshot(enc encryption.Encryptor, src io.Reader, dst io.Writer) error {
	sealed, err := enc.Seal(dst)
	if err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	zw, err := zstd.NewWriter(sealed, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return nil
}

// openSnapshot reverses sealSnapshot.
func openSnapshot(opener encryption.Opener, src io.Reader, dst io.Writer) error {
	plain, err := opener.Open(src)
	if err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	zr, err := zstd.NewReader(plain)
	if err != nil {
		return fmt.Errorf("creating decompressor: %w", err)
	}
	defer zr.Close()
	if _, err := io.Copy(dst, zr); err != nil {
		return fmt.Errorf("decompressing snapshot: %w", err)
	}
	return nil
}

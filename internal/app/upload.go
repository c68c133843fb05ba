package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/fs"
)

// UploadOptions controls an upload of local files.
type UploadOptions struct {
	ParentID  int64
	Recursive bool
	// ChunkSize overrides upload.chunk_size. Larger files go through the
	// chunked path.
	ChunkSize int64
}

// UploadReport summarizes an upload.
type UploadReport struct {
	Files   int
	Instant int // completed from already registered content
	Chunked int
	Bytes   int64
}

// Upload copies the file or directory at localPath into owner's drive.
// Directories keep their own name as the top folder.
func (a *DriveApp) Upload(ctx context.Context, owner int64, localPath string, opts UploadOptions) (UploadReport, error) {
	var report UploadReport
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = a.cfg.Upload.ChunkSize
	}

	files, err := a.walker.Find(localPath, opts.Recursive)
	if err != nil {
		return report, err
	}
	for _, f := range files {
		hash, err := fs.HashFile(f.Path)
		if err != nil {
			return report, err
		}
		if err := a.service.Quota.Check(ctx, owner, f.Size); err != nil {
			return report, fmt.Errorf("uploading %s: %w", f.Path, err)
		}
		parentID, undo, err := a.service.Tree.BuildPath(ctx, owner, opts.ParentID, f.RelDir)
		if err != nil {
			return report, fmt.Errorf("creating folders for %s: %w", f.Path, err)
		}

		if f.Size > chunkSize {
			instant, err := a.uploadChunked(ctx, owner, parentID, f, hash, chunkSize)
			if err != nil {
				undo(ctx)
				return report, fmt.Errorf("uploading %s: %w", f.Path, err)
			}
			report.Chunked++
			if instant {
				report.Instant++
			}
		} else if err := a.uploadWhole(ctx, owner, parentID, f, hash); err != nil {
			undo(ctx)
			return report, fmt.Errorf("uploading %s: %w", f.Path, err)
		}
		report.Files++
		report.Bytes += f.Size
	}
	a.logger.Info("upload finished", "owner", owner, "files", report.Files, "bytes", report.Bytes, "instant", report.Instant)
	return report, nil
}

func (a *DriveApp) uploadWhole(ctx context.Context, owner, parentID int64, f fs.LocalFile, hash string) error {
	r, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = a.service.Upload(ctx, drive.UploadRequest{
		Owner:    owner,
		ParentID: parentID,
		Name:     f.Name,
		Hash:     hash,
		Size:     f.Size,
		Body:     r,
	})
	return err
}

// uploadChunked resumes or starts a chunked upload and merges it. It reports
// whether the content was already known and no chunk was sent.
func (a *DriveApp) uploadChunked(ctx context.Context, owner, parentID int64, f fs.LocalFile, hash string, chunkSize int64) (bool, error) {
	chunks := a.service.Chunks
	check, err := chunks.CheckExisting(ctx, drive.CheckRequest{
		Owner:    owner,
		Hash:     hash,
		Size:     f.Size,
		FileName: f.Name,
		ParentID: parentID,
	})
	if err != nil {
		return false, err
	}
	if check.AlreadyComplete {
		return true, nil
	}

	have := make(map[int]bool, len(check.UploadedChunks))
	for _, i := range check.UploadedChunks {
		have[i] = true
	}

	r, err := os.Open(f.Path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	parts := fs.SplitChunks(f.Size, chunkSize)
	for _, c := range parts {
		if have[c.Index] {
			continue
		}
		section := io.NewSectionReader(r, c.Offset, c.Size)
		if err := chunks.StoreChunk(ctx, owner, hash, c.Index, section, c.Size); err != nil {
			return false, err
		}
	}
	if len(have) > 0 {
		a.logger.Info("resumed upload", "name", f.Name, "skipped_chunks", len(have), "chunks", len(parts))
	}

	_, err = chunks.Merge(ctx, drive.MergeRequest{
		Owner:          owner,
		Hash:           hash,
		FileName:       f.Name,
		ParentID:       parentID,
		DeclaredChunks: len(parts),
	})
	return false, err
}

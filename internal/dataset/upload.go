package dataset

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/abhiyan52/ClarityQL/internal/query"
	"github.com/abhiyan52/ClarityQL/internal/storage"
)

// DefaultName is the dataset the API queries unless configured otherwise.
const DefaultName = "demo"

// Upload writes each encoded table as part 0 of its dataset prefix and removes
// any other part under that prefix. An object whose size and content hash
// already match is left in place. Tables are uploaded concurrently; the first
// failure cancels the rest.
func Upload(ctx context.Context, store storage.ObjectStore, name string, tables []EncodedTable) ([]query.TableFile, error) {
	files := make([]query.TableFile, len(tables))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, table := range tables {
		group.Go(func() error {
			key, err := storage.DatasetFilePath(name, table.Table, 0)
			if err != nil {
				return err
			}
			size, err := putIfChanged(groupCtx, store, key, table.Data)
			if err != nil {
				return fmt.Errorf("upload %s: %w", table.Table, err)
			}
			if err := pruneStaleParts(groupCtx, store, name, table.Table, key); err != nil {
				return fmt.Errorf("prune %s: %w", table.Table, err)
			}
			files[i] = query.TableFile{TableName: table.Table, ObjectPath: key, FileSizeBytes: size}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func putIfChanged(ctx context.Context, store storage.ObjectStore, key string, data []byte) (int64, error) {
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	existing, err := store.Stat(ctx, key)
	switch {
	case err == nil:
		if existing.Size == int64(len(data)) && strings.EqualFold(strings.Trim(existing.ETag, `"`), etag) {
			return existing.Size, nil
		}
	case !errors.Is(err, storage.ErrObjectNotFound):
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}

	info, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return 0, err
	}
	if info.Size == 0 {
		return int64(len(data)), nil
	}
	return info.Size, nil
}

// pruneStaleParts deletes every object of the table except keep. Files lists
// the whole table prefix, so a leftover part would be queried as well.
func pruneStaleParts(ctx context.Context, store storage.ObjectStore, name, table, keep string) error {
	prefix, err := storage.DatasetTablePrefix(name, table)
	if err != nil {
		return err
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, object := range objects {
		if object.Key == keep {
			continue
		}
		if err := store.Delete(ctx, object.Key); err != nil {
			return err
		}
	}
	return nil
}

// Files lists the parquet objects backing the given tables. A table without
// any object is an error, since the query would otherwise fail inside DuckDB.
func Files(ctx context.Context, store storage.ObjectStore, name string, tables []string) ([]query.TableFile, error) {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	files := make([]query.TableFile, 0, len(sorted))
	for _, table := range sorted {
		prefix, err := storage.DatasetTablePrefix(name, table)
		if err != nil {
			return nil, err
		}
		objects, err := store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s files: %w", table, err)
		}
		if len(objects) == 0 {
			return nil, fmt.Errorf("dataset %q has no files for table %q", name, table)
		}
		for _, object := range objects {
			files = append(files, query.TableFile{TableName: table, ObjectPath: object.Key, FileSizeBytes: object.Size})
		}
	}
	return files, nil
}

// Seed generates, encodes and uploads a dataset in one step.
func Seed(ctx context.Context, store storage.ObjectStore, name string, seed int64, sizes Sizes) ([]query.TableFile, error) {
	ds, err := NewGenerator(seed).Generate(sizes)
	if err != nil {
		return nil, fmt.Errorf("generate dataset: %w", err)
	}
	tables, err := Encode(ds)
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return Upload(ctx, store, name, tables)
}

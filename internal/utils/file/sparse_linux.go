package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// CopyFileSparse copies src to dst walking its data extents with
// SEEK_DATA/SEEK_HOLE. Holes in the source stay holes in the destination, so
// a mostly-empty database clone costs only its data blocks on disk.
//
// When the filesystem does not support SEEK_DATA the returned error wraps
// [ErrSparseUnsupported] and the caller can fall back to a plain copy.
func CopyFileSparse(ctx context.Context, src, dst *os.File) error {
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return nil
	}

	fd := int(src.Fd())

	// One probe up front tells unsupported filesystems apart from real holes.
	switch _, err := unix.Seek(fd, 0, unix.SEEK_DATA); {
	case err == nil:
	case seekDataUnsupported(err):
		return fmt.Errorf("SEEK_DATA not supported: %w", ErrSparseUnsupported)
	case errors.Is(err, syscall.ENXIO):
		// The whole file is one hole, only the virtual size matters.
		return dst.Truncate(size)
	default:
		return err
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, 1024*1024)
	cursor := int64(0)

	for cursor < size {
		if err := ctx.Err(); err != nil {
			return err
		}

		dataStart, err := unix.Seek(fd, cursor, unix.SEEK_DATA)
		if errors.Is(err, syscall.ENXIO) {
			// No data extents left past the cursor.
			break
		}
		if err != nil {
			return err
		}

		dataEnd, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			return err
		}
		if dataEnd > size {
			dataEnd = size
		}

		if err := copyExtent(ctx, src, dst, dataStart, dataEnd-dataStart, buf); err != nil {
			return err
		}
		cursor = dataEnd
	}

	// A trailing hole exists only if the virtual size is restored.
	if err := dst.Truncate(size); err != nil {
		return fmt.Errorf("setting sparse file virtual size: %w", err)
	}

	return nil
}

// copyExtent copies length bytes of one data extent starting at off.
func copyExtent(ctx context.Context, src, dst *os.File, off, length int64, buf []byte) error {
	if _, err := src.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seeking source data extent: %w", err)
	}
	if _, err := dst.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seeking destination data extent: %w", err)
	}

	for length > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := int64(len(buf))
		if length < n {
			n = length
		}
		read, err := io.ReadFull(src, buf[:int(n)])
		if read > 0 {
			if _, werr := dst.Write(buf[:read]); werr != nil {
				return werr
			}
			length -= int64(read)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}

	return nil
}

// SizeStats returns a file's virtual size and its allocated on-disk size.
// Sparse files allocate less than they expose.
func SizeStats(path string) (virtualSize int64, allocatedSize int64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	virtualSize = fi.Size()
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return virtualSize, virtualSize, nil
	}
	return virtualSize, st.Blocks * 512, nil
}

func seekDataUnsupported(err error) bool {
	return errors.Is(err, syscall.ENOSYS) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP)
}

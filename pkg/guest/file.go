package guest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/vmorch/pkg/retry"
	"github.com/openfroyo/vmorch/pkg/vim"
)

// FileManager moves files in and out of the guest and manages guest
// directories.
type FileManager struct {
	m   *Manager
	log zerolog.Logger
}

// hostAddress returns the address transfer tickets must be sent to.
// A standalone host serves them itself; through vCenter they go to the host
// running the VM.
func (f *FileManager) hostAddress(ctx context.Context) (string, error) {
	client := f.m.vm.Client()
	if client.ServiceContent().IsHostAgent() {
		return client.Address(), nil
	}

	name, err := f.runtimeHost(ctx)
	if err == nil && name != "" {
		f.m.mu.Lock()
		f.m.lastHost = name
		f.m.mu.Unlock()
		return name, nil
	}

	f.m.mu.Lock()
	last := f.m.lastHost
	f.m.mu.Unlock()
	if last != "" {
		f.log.Warn().Err(err).Str("host", last).Msg("cannot resolve vm host, using last known address")
		return last, nil
	}
	if err == nil {
		err = vim.NewNotFoundError("vm has no runtime host").WithObject(f.m.vm.Ref()).WithOp("hostAddress")
	}
	return "", err
}

func (f *FileManager) runtimeHost(ctx context.Context) (string, error) {
	host, err := f.m.vm.Host(ctx)
	if err != nil || host == nil {
		return "", err
	}
	return host.Name(ctx)
}

// ticketURL replaces the "*" host placeholder of a transfer ticket.
func ticketURL(raw, host string) string {
	return strings.Replace(raw, "//*", "//"+host, 1)
}

// Upload writes size bytes from r to remotePath, creating the parent
// directory and overwriting an existing file.
//
// An unreachable transfer host is retried with a fresh ticket. Readers that
// implement io.Seeker are rewound between attempts; other readers cannot be
// retried once consumed.
func (f *FileManager) Upload(ctx context.Context, r io.Reader, size int64, remotePath string) error {
	ctx, span := tracer.Start(ctx, "guest.upload")
	defer span.End()
	start := time.Now()

	fam, err := f.m.Family(ctx)
	if err != nil {
		return err
	}
	refs, err := f.m.managers(ctx)
	if err != nil {
		return err
	}
	target := fam.Normalize(remotePath)
	span.SetAttributes(attribute.String("guest.path", target), attribute.Int64("guest.bytes", size))

	seeker, _ := r.(io.Seeker)
	var origin int64
	if seeker != nil {
		if origin, err = seeker.Seek(0, io.SeekCurrent); err != nil {
			seeker = nil
		}
	}

	client := f.m.vm.Client()
	consumed := false
	policy := retry.Policy{
		Name:        "guestUpload",
		MaxAttempts: f.m.timing.TransferAttempts,
		Interval:    f.m.timing.TransferInterval,
		Retryable:   vim.IsHostUnreachable,
	}
	err = retry.Run(ctx, policy, func(ctx context.Context) error {
		if consumed {
			if seeker == nil {
				return vim.NewError(vim.KindInvalidArgument, "cannot retry an upload from a non-seekable reader", nil).
					WithOp("upload")
			}
			if _, err := seeker.Seek(origin, io.SeekStart); err != nil {
				return fmt.Errorf("rewind upload source: %w", err)
			}
		}

		if err := f.Mkdirp(ctx, fam.Dir(target)); err != nil {
			return err
		}
		raw, err := client.InitiateFileTransferToGuest(ctx, refs.file, f.m.vm.Ref(), f.m.auth(), target, size, true)
		if err != nil {
			return vim.NewTransportError("initiateFileTransferToGuest failed for "+target, err).
				WithObject(f.m.vm.Ref()).
				WithOp("upload")
		}
		host, err := f.hostAddress(ctx)
		if err != nil {
			return err
		}

		consumed = true
		return f.m.put(ctx, ticketURL(raw, host), r, size)
	})

	f.observe(DirectionUpload, size, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	f.log.Info().
		Str("path", target).
		Int64("bytes", size).
		Dur("duration", time.Since(start)).
		Msg("uploaded")
	return nil
}

// Download copies remotePath into w and returns the number of bytes copied.
func (f *FileManager) Download(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "guest.download")
	defer span.End()
	start := time.Now()

	n, err := f.download(ctx, remotePath, w)
	f.observe(DirectionDownload, n, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return n, err
	}
	span.SetAttributes(attribute.Int64("guest.bytes", n))
	f.log.Debug().
		Str("path", remotePath).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("downloaded")
	return n, nil
}

func (f *FileManager) download(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	fam, err := f.m.Family(ctx)
	if err != nil {
		return 0, err
	}
	refs, err := f.m.managers(ctx)
	if err != nil {
		return 0, err
	}
	source := fam.Normalize(remotePath)

	info, err := f.m.vm.Client().InitiateFileTransferFromGuest(ctx, refs.file, f.m.vm.Ref(), f.m.auth(), source)
	if err != nil {
		return 0, vim.NewTransportError("initiateFileTransferFromGuest failed for "+source, err).
			WithObject(f.m.vm.Ref()).
			WithOp("download")
	}
	host, err := f.hostAddress(ctx)
	if err != nil {
		return 0, err
	}
	return f.m.get(ctx, ticketURL(info.URL, host), w)
}

func (f *FileManager) observe(direction string, n int64, start time.Time, err error) {
	if f.m.observer != nil {
		f.m.observer.TransferCompleted(direction, n, time.Since(start), err)
	}
}

// UploadText writes text to remotePath.
func (f *FileManager) UploadText(ctx context.Context, text, remotePath string) error {
	return f.Upload(ctx, strings.NewReader(text), int64(len(text)), remotePath)
}

// DownloadText reads remotePath as a string.
func (f *FileManager) DownloadText(ctx context.Context, remotePath string) (string, error) {
	var buf bytes.Buffer
	if _, err := f.Download(ctx, remotePath, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// UploadFile copies a local file to remotePath.
func (f *FileManager) UploadFile(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	st, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	return f.Upload(ctx, file, st.Size(), remotePath)
}

// DownloadFile copies remotePath to a local file. A partially written local
// file is removed on failure.
func (f *FileManager) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	_, err = f.Download(ctx, remotePath, file)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", localPath, cerr)
	}
	if err != nil {
		_ = os.Remove(localPath)
		return err
	}
	return nil
}

// Delete removes a guest directory and its content. A missing directory is
// not an error.
func (f *FileManager) Delete(ctx context.Context, path string) error {
	fam, err := f.m.Family(ctx)
	if err != nil {
		return err
	}
	refs, err := f.m.managers(ctx)
	if err != nil {
		return err
	}
	target := fam.Normalize(path)

	err = f.m.vm.Client().DeleteDirectoryInGuest(ctx, refs.file, f.m.vm.Ref(), f.m.auth(), target, true)
	switch {
	case err == nil:
		f.log.Debug().Str("path", target).Msg("deleted")
		return nil
	case vim.IsNotFoundFault(err):
		return nil
	default:
		return vim.NewTransportError("deleteDirectoryInGuest failed for "+target, err).
			WithObject(f.m.vm.Ref()).
			WithOp("delete")
	}
}

// Mkdirp creates a guest directory and its parents. An existing directory is
// not an error.
func (f *FileManager) Mkdirp(ctx context.Context, path string) error {
	fam, err := f.m.Family(ctx)
	if err != nil {
		return err
	}
	target := fam.Normalize(path)
	if target == "" || target == fam.Dir(target) {
		return nil
	}
	refs, err := f.m.managers(ctx)
	if err != nil {
		return err
	}

	err = f.m.vm.Client().MakeDirectoryInGuest(ctx, refs.file, f.m.vm.Ref(), f.m.auth(), target, true)
	if err == nil || vim.IsAlreadyExistsFault(err) {
		return nil
	}
	return vim.NewTransportError("makeDirectoryInGuest failed for "+target, err).
		WithObject(f.m.vm.Ref()).
		WithOp("mkdirp")
}

// TempPath returns a unique scratch path in the guest, with sub appended
// when it is not empty. Nothing is created.
func (f *FileManager) TempPath(ctx context.Context, sub string) (string, error) {
	fam, err := f.m.Family(ctx)
	if err != nil {
		return "", err
	}
	return fam.TempPath(f.m.now(), sub), nil
}

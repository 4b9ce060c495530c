package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dunamismax/resized/internal/domain"
)

const (
	SourceTypeS3Presigned = domain.SourceTypeS3Presigned

	outputContentType = "image/jpeg"
)

var errSinkAborted = errors.New("output aborted")

// ObjectStore is the part of the storage client the object stages use.
type ObjectStore interface {
	Open(ctx context.Context, objectKey string) (io.ReadCloser, error)
	PutStream(ctx context.Context, objectKey string, r io.Reader, contentType string) error
}

// ObjectStoreFetcher spools the source object to a local temporary file so
// the prober and the first stage can both read it.
type ObjectStoreFetcher struct {
	Store   ObjectStore
	TempDir string
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if f.Store == nil {
		return Source{}, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	obj, err := f.Store.Open(ctx, req.ObjectKey)
	if err != nil {
		return Source{}, err
	}
	defer obj.Close()

	tmp, err := os.CreateTemp(f.TempDir, "resized-src-*")
	if err != nil {
		return Source{}, fmt.Errorf("create spool file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, obj)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return Source{}, fmt.Errorf("spool object %s: %w", req.ObjectKey, err)
	}
	return Source{Path: tmp.Name(), Size: n, Cleanup: cleanup}, nil
}

// ObjectStoreEmitter streams the encoder's output straight into an upload.
type ObjectStoreEmitter struct {
	Store        ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Create(ctx context.Context, req Request, name string) (Sink, error) {
	if e.Store == nil {
		return nil, errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		sanitizeFileName(name),
	)

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &objectSink{key: objectKey, pw: pw, cancel: cancel, done: make(chan error, 1)}
	go func() {
		err := e.Store.PutStream(ctx, objectKey, pr, outputContentType)
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		s.done <- err
	}()
	return s, nil
}

type objectSink struct {
	key    string
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error
}

func (s *objectSink) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

func (s *objectSink) Commit() (string, error) {
	_ = s.pw.Close()
	err := <-s.done
	s.cancel()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", s.key, err)
	}
	return s.key, nil
}

func (s *objectSink) Abort() {
	_ = s.pw.CloseWithError(errSinkAborted)
	s.cancel()
	<-s.done
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

package guest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/vmorch/pkg/vim"
)

var tracer = otel.Tracer("github.com/openfroyo/vmorch/pkg/guest")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// put sends exactly size bytes of r to a transfer ticket URL.
func (m *Manager) put(ctx context.Context, url string, r io.Reader, size int64) error {
	body := io.NopCloser(io.LimitReader(r, size))
	if size == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return vim.NewError(vim.KindInvalidArgument, "invalid transfer ticket", err).WithOp("upload")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.http.Do(req)
	if err != nil {
		return vim.NewTransportError("upload to guest failed", err).WithObject(m.vm.Ref()).WithOp("upload")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return vim.NewTransportError(fmt.Sprintf("upload to guest failed: %s", resp.Status), nil).
			WithObject(m.vm.Ref()).
			WithOp("upload").
			WithCode(fmt.Sprint(resp.StatusCode))
	}
	return nil
}

// get copies the content of a transfer ticket URL into w.
func (m *Manager) get(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, vim.NewError(vim.KindInvalidArgument, "invalid transfer ticket", err).WithOp("download")
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, vim.NewTransportError("download from guest failed", err).WithObject(m.vm.Ref()).WithOp("download")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, vim.NewTransportError(fmt.Sprintf("download from guest failed: %s", resp.Status), nil).
			WithObject(m.vm.Ref()).
			WithOp("download").
			WithCode(fmt.Sprint(resp.StatusCode))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, vim.NewTransportError("download from guest interrupted", err).WithObject(m.vm.Ref()).WithOp("download")
	}
	return n, nil
}

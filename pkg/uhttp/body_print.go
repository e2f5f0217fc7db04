package uhttp

// Implements a debugging facility for request responses. This changes
// the behavior of `BaseHttpClient` with an unexported flag.

import (
	"context"
	"io"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type printReader struct {
	reader io.Reader
	l      *zap.Logger
}

func (pr *printReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.l.Debug("uhttp: response body", zap.ByteString("chunk", p[:n]))
	}

	return n, err
}

func wrapPrintBody(ctx context.Context, body io.Reader) io.Reader {
	return &printReader{reader: body, l: ctxzap.Extract(ctx)}
}

type readCloser struct {
	io.Reader
	io.Closer
}

type printBodyOption struct {
	debugPrintBody bool
}

func (o printBodyOption) Apply(c *BaseHttpClient) {
	c.debugPrintBody = o.debugPrintBody
}

func WithPrintBody(shouldPrint bool) WrapperOption {
	return printBodyOption{debugPrintBody: shouldPrint}
}

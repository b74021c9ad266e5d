package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const msgInvalidGzip = "invalid gzip body"

// BodyMiddleware limits request bodies to maxSize bytes, measured after gzip
// decoding. A maxSize of zero disables the limit.
func BodyMiddleware(maxSize int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				if err := gunzipBody(req); err != nil {
					return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidGzip})
				}
			}
			if maxSize > 0 {
				req.Body = http.MaxBytesReader(c.Response(), req.Body, maxSize)
			}
			return next(c)
		}
	}
}

func gunzipBody(req *http.Request) error {
	raw := req.Body
	zr, err := gzip.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return err
	}
	req.Body = gunzipReader{zr: zr, raw: raw}
	req.ContentLength = -1
	req.Header.Del(echo.HeaderContentEncoding)
	req.Header.Del(echo.HeaderContentLength)
	return nil
}

func hasGzipEncoding(header string) bool {
	for header != "" {
		var enc string
		enc, header, _ = strings.Cut(header, ",")
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// gunzipReader closes both the gzip stream and the underlying body.
type gunzipReader struct {
	zr  *gzip.Reader
	raw io.Closer
}

func (g gunzipReader) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g gunzipReader) Close() error {
	return errors.Join(g.zr.Close(), g.raw.Close())
}

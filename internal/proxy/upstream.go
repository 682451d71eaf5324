package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/any-hub/cloudcache/internal/cache"
	"github.com/any-hub/cloudcache/internal/server"
)

// ErrUpstreamStatus 表示源站返回了非 200 状态，内容不可缓存。
var ErrUpstreamStatus = errors.New("unexpected upstream status")

// UpstreamStatusError 记录具体的源站地址与状态码。
type UpstreamStatusError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
}

// Is 让 errors.Is(err, ErrUpstreamStatus) 成立。
func (e *UpstreamStatusError) Is(target error) bool {
	return target == ErrUpstreamStatus
}

// fetchProducer 返回一个对源站发起 GET 并把正文写入缓存的生产函数。
func (h *Handler) fetchProducer(ctx context.Context, upstream *url.URL, requestID string) cache.ProduceFunc {
	return func(w io.Writer) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.String(), http.NoBody)
		if err != nil {
			return err
		}
		if requestID != "" {
			req.Header.Set(server.HeaderRequestID, requestID)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", upstream.Redacted(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &UpstreamStatusError{URL: upstream.Redacted(), StatusCode: resp.StatusCode}
		}

		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("read %s: %w", upstream.Redacted(), err)
		}
		return nil
	}
}

package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	urlTool "net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client : 데이터 API 호출용 얇은 resty 래퍼. 테스트에서는 mock 구현으로 대체한다.
type Client interface {
	Get(ctx context.Context, url string, header map[string]string, queryParams ...QueryParam) (*resty.Response, error)
}

type QueryParam struct {
	Key   string
	Value any
}

func NewClient(timeout time.Duration, retryCount int) Client {
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetRetryCount(retryCount)
	c.SetRetryWaitTime(time.Second)
	c.SetRetryMaxWaitTime(5 * time.Second)
	c.AddRetryCondition(func(response *resty.Response, err error) bool {
		return err != nil || response.StatusCode() >= 500
	})

	transport := &http.Transport{}
	transport.DialContext = (&net.Dialer{}).DialContext
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 100
	c.SetTransport(transport)

	return &defaultClient{resty: c}
}

type defaultClient struct {
	resty *resty.Client
}

func (c *defaultClient) Get(ctx context.Context, url string, header map[string]string, queryParams ...QueryParam) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	req.SetHeader("Accept", "application/json")
	if header != nil {
		req.SetHeaders(header)
	}
	return req.Get(makeURL(url, queryParams...))
}

func makeURL(url string, queryParams ...QueryParam) string {
	if len(queryParams) == 0 {
		return url
	}
	var queryString []string
	for _, query := range queryParams {
		strValue := fmt.Sprintf("%v", query.Value)
		queryString = append(queryString, fmt.Sprintf("%s=%s", urlTool.QueryEscape(query.Key), urlTool.QueryEscape(strValue)))
	}
	return fmt.Sprintf("%s?%s", url, strings.Join(queryString, "&"))
}

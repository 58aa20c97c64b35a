package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// MockFunc : path 하나에 대한 가짜 응답. Respond가 에러를 주면 호출 에러로 전달된다.
type MockFunc struct {
	Path       string
	StatusCode int
	Respond    func(header map[string]string, queryParams ...QueryParam) (any, error)
}

func NewMockClient(mockFuncs []MockFunc) Client {
	mocks := make(map[string]MockFunc)
	for _, mockFunc := range mockFuncs {
		mocks[mockFunc.Path] = mockFunc
	}
	return &mockClient{mocks: mocks}
}

type mockClient struct {
	mocks map[string]MockFunc
}

func (c *mockClient) Get(_ context.Context, url string, header map[string]string, queryParams ...QueryParam) (*resty.Response, error) {
	mockFunc, ok := c.mocks[url]
	if !ok {
		return nil, errors.New("mock not found for the requested url")
	}

	body, givenErr := mockFunc.Respond(header, queryParams...)
	if givenErr != nil {
		return nil, givenErr
	}

	status := mockFunc.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return createMockResponse(body, status)
}

func createMockResponse(body any, statusCode int) (*resty.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp := &resty.Response{
		Request: &resty.Request{},
		RawResponse: &http.Response{
			Status:     http.StatusText(statusCode),
			StatusCode: statusCode,
			Body:       io.NopCloser(bytes.NewReader(raw)),
			Header:     http.Header{},
		},
	}
	resp.SetBody(raw)
	return resp, nil
}

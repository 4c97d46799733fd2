// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
	"net/url"
)

type HttpReader struct {
	baseURL string
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{baseURL: "http://" + serverIP + ":" + serverPort}
}

// NewHttpReaderFromURL points the reader at a full base url, e.g. an httptest server.
func NewHttpReaderFromURL(baseURL string) *HttpReader {
	return &HttpReader{baseURL: baseURL}
}

func (hr *HttpReader) get(route string) (int, string, error) {
	resp, err := http.Get(hr.baseURL + route)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

func (hr *HttpReader) GetHello() (string, error) {
	_, body, err := hr.get(ROUTE_HELLO)
	return body, err
}

func (hr *HttpReader) GetStatus() (string, error) {
	_, body, err := hr.get(ROUTE_STATUS)
	return body, err
}

// GetSwap returns the http status code and body of the swap lookup.
func (hr *HttpReader) GetSwap(escrowHash string) (int, string, error) {
	return hr.get(ROUTE_SWAPS + "?escrow_hash=" + url.QueryEscape(escrowHash))
}

func (hr *HttpReader) GetVaults() (string, error) {
	_, body, err := hr.get(ROUTE_VAULTS)
	return body, err
}

func (hr *HttpReader) GetMetrics() (string, error) {
	_, body, err := hr.get(ROUTE_METRICS)
	return body, err
}

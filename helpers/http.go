package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds ordinary provider API calls. Media uploads get a
// longer budget via UploadTimeout.
const (
	DefaultTimeout = 15 * time.Second
	UploadTimeout  = 2 * time.Minute
)

// Universal HTTP request function. Encodes the body based on Content-Type,
// decodes the JSON response into T and classifies non-2xx statuses into an
// HTTPError the caller can inspect.
func MakeHTTPRequest[T any](
	ctx context.Context,
	method string,
	fullURL string,
	headers map[string]string,
	queryParams url.Values,
	body interface{},
) (T, error) {
	var result T

	var bodyReader io.Reader

	// Prepare request body based on Content-Type
	if body != nil {
		contentType := headers["Content-Type"]

		switch contentType {
		case "application/x-www-form-urlencoded":
			formValues, ok := body.(url.Values)
			if !ok {
				return result, fmt.Errorf("body must be url.Values when using application/x-www-form-urlencoded")
			}
			bodyReader = strings.NewReader(formValues.Encode())

		case "application/json", "":
			b, err := json.Marshal(body)
			if err != nil {
				return result, err
			}
			bodyReader = bytes.NewBuffer(b)

		default:
			return result, fmt.Errorf("unsupported Content-Type: %s", contentType)
		}
	}

	// Add query parameters
	u, err := url.Parse(fullURL)
	if err != nil {
		return result, err
	}
	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return result, err
	}

	// Set headers
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: DefaultTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(respBytes)}
	}

	if len(respBytes) == 0 {
		return result, nil
	}

	// Try to unmarshal the response into result
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return result, err
	}

	return result, nil
}

// MultipartField is one part of a multipart/form-data upload. Filename is
// empty for plain form values.
type MultipartField struct {
	Name     string
	Filename string
	Value    []byte
}

// MakeMultipartRequest posts multipart/form-data and decodes the JSON
// response into T. Used for provider media uploads.
func MakeMultipartRequest[T any](
	ctx context.Context,
	fullURL string,
	headers map[string]string,
	fields []MultipartField,
) (T, error) {
	var result T

	b := &bytes.Buffer{}
	form := multipart.NewWriter(b)
	for _, f := range fields {
		var (
			fw  io.Writer
			err error
		)
		if f.Filename != "" {
			fw, err = form.CreateFormFile(f.Name, f.Filename)
		} else {
			fw, err = form.CreateFormField(f.Name)
		}
		if err != nil {
			return result, err
		}
		if _, err = fw.Write(f.Value); err != nil {
			return result, err
		}
	}
	if err := form.Close(); err != nil {
		return result, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(b.Bytes()))
	if err != nil {
		return result, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	client := &http.Client{Timeout: UploadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(respBytes)}
	}

	if err := json.Unmarshal(respBytes, &result); err != nil {
		return result, err
	}
	return result, nil
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return e.Status + ": " + e.Body
}

// IsAuthStatus reports whether the status means the credential itself was
// rejected.
func (e *HTTPError) IsAuthStatus() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsTransientStatus reports whether the call may be retried later.
func (e *HTTPError) IsTransientStatus() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
